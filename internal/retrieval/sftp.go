// Package retrieval copies the recorded utterance off the robot over SFTP.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Fetcher copies one remote file to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, host, remotePath, localPath string) error
}

// SFTP fetches files with password authentication. Robots are addressed
// by link-local IPs that change, so host keys are not pinned.
type SFTP struct {
	User     string
	Password string
	Port     int
	Timeout  time.Duration
}

// NewSFTP returns an SFTP fetcher on port 22. Timeout bounds connection
// setup (dial plus handshakes), not the copy itself.
func NewSFTP(user, password string) *SFTP {
	return &SFTP{User: user, Password: password, Port: 22, Timeout: 10 * time.Second}
}

func (f *SFTP) config() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            f.User,
		Auth:            []ssh.AuthMethod{ssh.Password(f.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         f.Timeout,
	}
}

// Fetch downloads remotePath from host into localPath, replacing it.
func (f *SFTP) Fetch(ctx context.Context, host, remotePath, localPath string) error {
	client, sc, err := f.open(ctx, host)
	if err != nil {
		return err
	}
	defer client.Close()
	defer sc.Close()

	// Abort the copy when ctx ends.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	src, err := sc.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	return writeFile(localPath, src)
}

// Probe opens and closes an SFTP session on host.
func (f *SFTP) Probe(ctx context.Context, host string) error {
	client, sc, err := f.open(ctx, host)
	if err != nil {
		return err
	}
	defer client.Close()
	return sc.Close()
}

// open dials host and starts an SFTP session. The TCP dial, the SSH
// handshake and the SFTP handshake all share one Timeout deadline, and a
// cancelled ctx closes the connection mid-handshake.
func (f *SFTP) open(ctx context.Context, host string) (*ssh.Client, *sftp.Client, error) {
	port := f.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := net.Dialer{Timeout: f.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if f.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(f.Timeout)); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("set deadline %s: %w", addr, err)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, f.config())
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("sftp session: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sc.Close()
		client.Close()
		return nil, nil, fmt.Errorf("clear deadline %s: %w", addr, err)
	}
	return client, sc, nil
}

func writeFile(path string, r io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("copy to %s: %w", path, err)
	}
	return dst.Close()
}

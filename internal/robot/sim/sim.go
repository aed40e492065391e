// Package sim provides an in-memory robot for tests and for running the
// bridge without hardware. It tracks joint stiffness, records every call and
// replays a scripted microphone energy trace.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joss/naobridge/internal/robot"
)

// Robot implements every capability interface of package robot.
type Robot struct {
	mu sync.Mutex

	stiffness map[string]float64
	calls     []string
	spoken    []string
	failures  map[string]error

	energies  []float64
	energyIdx int

	language   string
	volume     float64
	tracking   bool
	recording  bool
	recordPath string
	eyes       uint32
}

// New returns a robot at rest with every joint group de-energized.
func New() *Robot {
	r := &Robot{
		stiffness: make(map[string]float64),
		failures:  make(map[string]error),
	}
	for _, g := range robot.GestureGroups {
		r.stiffness[g] = 0
	}
	return r
}

// Handles exposes the robot as capability handles.
func (r *Robot) Handles() *robot.Handles {
	return &robot.Handles{
		Speech:   r,
		Motion:   r,
		LEDs:     r,
		Audio:    r,
		Recorder: r,
		Tracker:  r,
		Faces:    r,
	}
}

// Dialer returns a dialer that always hands out this robot, or fails with
// the error registered under "Dial".
func (r *Robot) Dialer() robot.Dialer {
	return robot.DialerFunc(func(ctx context.Context, host string, port int) (*robot.Handles, error) {
		if err := r.record("Dial", fmt.Sprintf("%s:%d", host, port)); err != nil {
			return nil, err
		}
		return r.Handles(), nil
	})
}

// FailOn makes every call to method return err. A nil err clears it.
func (r *Robot) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, method)
		return
	}
	r.failures[method] = err
}

// ScriptEnergy sets the microphone energy trace. Each recording replays it
// from the start; once exhausted the last value repeats.
func (r *Robot) ScriptEnergy(values ...float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.energies = append([]float64(nil), values...)
	r.energyIdx = 0
}

func (r *Robot) record(method, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := method
	if detail != "" {
		entry += " " + detail
	}
	r.calls = append(r.calls, entry)
	return r.failures[method]
}

// Calls returns every call made so far, "Method detail" formatted.
func (r *Robot) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CallCount counts calls whose method name is method.
func (r *Robot) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == method || strings.HasPrefix(c, method+" ") {
			n++
		}
	}
	return n
}

// Spoken returns every utterance passed to Say.
func (r *Robot) Spoken() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

// Stiffness returns the current stiffness of a joint group.
func (r *Robot) Stiffness(group string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stiffness[group]
}

// Energized lists groups with non-zero stiffness.
func (r *Robot) Energized() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, g := range robot.GestureGroups {
		if r.stiffness[g] != 0 {
			out = append(out, g)
		}
	}
	return out
}

func (r *Robot) Language() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.language
}

func (r *Robot) Tracking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracking
}

func (r *Robot) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Eyes returns the last colour faded on the face LEDs.
func (r *Robot) Eyes() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eyes
}

func (r *Robot) Say(ctx context.Context, text string) error {
	if err := r.record("Say", text); err != nil {
		return err
	}
	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()
	return nil
}

func (r *Robot) SetLanguage(ctx context.Context, language string) error {
	if err := r.record("SetLanguage", language); err != nil {
		return err
	}
	r.mu.Lock()
	r.language = language
	r.mu.Unlock()
	return nil
}

func (r *Robot) SetVolume(ctx context.Context, volume float64) error {
	if err := r.record("SetVolume", fmt.Sprintf("%.2f", volume)); err != nil {
		return err
	}
	r.mu.Lock()
	r.volume = volume
	r.mu.Unlock()
	return nil
}

func (r *Robot) SetStiffnesses(ctx context.Context, group string, stiffness float64) error {
	if err := r.record("SetStiffnesses", fmt.Sprintf("%s=%.2f", group, stiffness)); err != nil {
		return err
	}
	r.mu.Lock()
	r.stiffness[group] = stiffness
	r.mu.Unlock()
	return nil
}

func (r *Robot) SetAngles(ctx context.Context, joints []string, angles []float64, speed float64) error {
	if len(joints) != len(angles) {
		return fmt.Errorf("setAngles: %d joints for %d angles", len(joints), len(angles))
	}
	return r.record("SetAngles", strings.Join(joints, ","))
}

func (r *Robot) FadeRGB(ctx context.Context, group string, rgb uint32, seconds float64) error {
	if err := r.record("FadeRGB", fmt.Sprintf("%s=%06X", group, rgb)); err != nil {
		return err
	}
	r.mu.Lock()
	if group == robot.FaceLeds {
		r.eyes = rgb
	}
	r.mu.Unlock()
	return nil
}

func (r *Robot) EnableEnergyComputation(ctx context.Context) error {
	return r.record("EnableEnergyComputation", "")
}

func (r *Robot) FrontMicEnergy(ctx context.Context) (float64, error) {
	if err := r.record("FrontMicEnergy", ""); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.energies) == 0 {
		return 0, nil
	}
	if r.energyIdx >= len(r.energies) {
		return r.energies[len(r.energies)-1], nil
	}
	e := r.energies[r.energyIdx]
	r.energyIdx++
	return e, nil
}

func (r *Robot) PlaySine(ctx context.Context, frequency, gain, pan int, seconds float64) error {
	return r.record("PlaySine", fmt.Sprintf("%dHz", frequency))
}

func (r *Robot) StartMicrophonesRecording(ctx context.Context, path, format string, sampleRate int, channels [4]int) error {
	if err := r.record("StartMicrophonesRecording", path); err != nil {
		return err
	}
	r.mu.Lock()
	r.recording = true
	r.recordPath = path
	r.energyIdx = 0
	r.mu.Unlock()
	return nil
}

func (r *Robot) StopMicrophonesRecording(ctx context.Context) error {
	if err := r.record("StopMicrophonesRecording", ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.recording = false
	r.mu.Unlock()
	return nil
}

func (r *Robot) SetMode(ctx context.Context, mode string) error {
	return r.record("SetMode", mode)
}

func (r *Robot) RegisterTarget(ctx context.Context, target string, width float64) error {
	return r.record("RegisterTarget", target)
}

func (r *Robot) Track(ctx context.Context, target string) error {
	if err := r.record("Track", target); err != nil {
		return err
	}
	r.mu.Lock()
	r.tracking = true
	r.mu.Unlock()
	return nil
}

func (r *Robot) StopTracker(ctx context.Context) error {
	if err := r.record("StopTracker", ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.tracking = false
	r.mu.Unlock()
	return nil
}

func (r *Robot) UnregisterAllTargets(ctx context.Context) error {
	return r.record("UnregisterAllTargets", "")
}

func (r *Robot) SetParameter(ctx context.Context, name string, value any) error {
	return r.record("SetParameter", fmt.Sprintf("%s=%v", name, value))
}

func (r *Robot) EnableTracking(ctx context.Context, enabled bool) error {
	return r.record("EnableTracking", fmt.Sprintf("%t", enabled))
}

// Fetcher stands in for the file retrieval service: it writes a short silent
// 16 kHz mono WAV to the local path.
type Fetcher struct {
	Err error
}

func (f Fetcher) Fetch(ctx context.Context, host, remotePath, localPath string) error {
	if f.Err != nil {
		return f.Err
	}
	return os.WriteFile(localPath, silentWAV(16000, 1600), 0o600)
}

func silentWAV(sampleRate, samples int) []byte {
	dataLen := samples * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))
	return buf
}

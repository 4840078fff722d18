package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/diag"
)

// Options configure the ffmpeg binary and its network input flags.
type Options struct {
	// Path is the ffmpeg executable, resolved through PATH when relative.
	Path string
	// RTSPTransport is passed as -rtsp_transport for rtsp inputs.
	RTSPTransport string
	// SocketTimeout bounds network reads on rtsp inputs.
	SocketTimeout time.Duration
	// ProbeSize is used for both -analyzeduration (in microseconds) and -probesize (in bytes).
	ProbeSize int
	// ReconnectDelayMax is passed as -reconnect_delay_max for http inputs.
	ReconnectDelayMax time.Duration
	// KillAfter is how long a cancelled capture gets to exit after SIGTERM.
	KillAfter time.Duration
	// DiagnosticLines is the number of stderr lines kept per process.
	DiagnosticLines int
}

// DefaultOptions returns the flags used for IP camera capture.
func DefaultOptions() Options {
	return Options{
		Path:              "ffmpeg",
		RTSPTransport:     "tcp",
		SocketTimeout:     10 * time.Second,
		ProbeSize:         10000000,
		ReconnectDelayMax: 5 * time.Second,
		KillAfter:         10 * time.Second,
		DiagnosticLines:   diag.DefaultLines,
	}
}

// FFmpeg runs ffmpeg subprocesses for capture, extraction, concatenation and probing.
type FFmpeg struct {
	opts   Options
	logger *zap.Logger
}

// NewFFmpeg creates an ffmpeg-backed engine.
func NewFFmpeg(opts Options, logger *zap.Logger) *FFmpeg {
	if opts.Path == "" {
		opts.Path = "ffmpeg"
	}
	if opts.DiagnosticLines <= 0 {
		opts.DiagnosticLines = diag.DefaultLines
	}
	return &FFmpeg{opts: opts, logger: logger}
}

// CaptureArgs builds the argument list for a segment capture: stream copy,
// bounded duration, fragmented MP4 so a truncated file stays playable.
func (f *FFmpeg) CaptureArgs(req Request) []string {
	args := []string{"-nostdin", "-hide_banner", "-nostats", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(req.InputURI, "rtsp://"), strings.HasPrefix(req.InputURI, "rtsps://"):
		if f.opts.RTSPTransport != "" {
			args = append(args, "-rtsp_transport", f.opts.RTSPTransport)
		}
		if f.opts.SocketTimeout > 0 {
			args = append(args, "-timeout", strconv.FormatInt(f.opts.SocketTimeout.Microseconds(), 10))
		}
	case strings.HasPrefix(req.InputURI, "http://"), strings.HasPrefix(req.InputURI, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", strconv.Itoa(int(f.opts.ReconnectDelayMax.Seconds())),
		)
	}

	if f.opts.ProbeSize > 0 {
		size := strconv.Itoa(f.opts.ProbeSize)
		args = append(args, "-analyzeduration", size, "-probesize", size)
	}

	args = append(args,
		"-i", req.InputURI,
		"-c:v", "copy",
		"-c:a", "copy",
		"-t", seconds(req.Duration),
		"-err_detect", "ignore_err",
		"-max_error_rate", "0.5",
		"-movflags", "+faststart+frag_keyframe+empty_moov",
		"-y", req.OutputPath,
	)
	return args
}

// StartCapture launches ffmpeg for one segment. Cancelling ctx sends SIGTERM
// and kills the process if it has not exited after KillAfter.
func (f *FFmpeg) StartCapture(ctx context.Context, req Request) (Process, error) {
	tail := diag.NewTail(f.opts.DiagnosticLines)

	cmd := exec.CommandContext(ctx, f.opts.Path, f.CaptureArgs(req)...)
	cmd.Stderr = tail
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	if f.opts.KillAfter > 0 {
		cmd.WaitDelay = f.opts.KillAfter
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	f.logger.Debug("capture process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("output", req.OutputPath),
		zap.Duration("duration", req.Duration))

	return &ffmpegProcess{cmd: cmd, tail: tail}, nil
}

type ffmpegProcess struct {
	cmd  *exec.Cmd
	tail *diag.Tail
}

func (p *ffmpegProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *ffmpegProcess) Wait() ExitStatus {
	err := p.cmd.Wait()
	p.tail.Flush()

	st := ExitStatus{Code: -1, Diagnostics: p.tail.Lines()}
	if p.cmd.ProcessState != nil {
		st.Code = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		st.Err = err
	}
	return st
}

func (p *ffmpegProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *ffmpegProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// Extract copies [offset, offset+duration) of input into output without re-encoding.
func (f *FFmpeg) Extract(ctx context.Context, input, output string, offset, duration time.Duration) error {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-ss", seconds(offset),
		"-t", seconds(duration),
		"-c:v", "copy",
		"-c:a", "copy",
		"-y", output,
	}
	_, err := f.run(ctx, "extract", args)
	return err
}

// Concat joins inputs in order into output using the concat demuxer.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("ffmpeg concat: no inputs")
	}

	list := filepath.Join(filepath.Dir(output), "concat_list.txt")
	if err := WriteConcatList(list, inputs); err != nil {
		return err
	}
	defer os.Remove(list)

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-c", "copy",
		"-y", output,
	}
	_, err := f.run(ctx, "concat", args)
	return err
}

// ProbeDuration reads the container duration ffmpeg reports for path.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	// Without an output ffmpeg exits non-zero after printing the input header.
	cmd := exec.CommandContext(ctx, f.opts.Path, "-nostdin", "-hide_banner", "-i", path)
	out, runErr := cmd.CombinedOutput()

	d, err := ParseDuration(string(out))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("probing %s: %w (ffmpeg: %v)", path, err, runErr)
	}
	return d, nil
}

// Check verifies that the ffmpeg binary runs and returns its version line.
func (f *FFmpeg) Check(ctx context.Context) (string, error) {
	out, err := f.run(ctx, "version", []string{"-hide_banner", "-version"})
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line, nil
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, f.opts.Path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := diag.NewTail(10)
		tail.Write(out)
		tail.Flush()
		return "", fmt.Errorf("ffmpeg %s: %w\n%s", op, err, tail.String())
	}
	return string(out), nil
}

var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ErrNoDuration is returned when ffmpeg output carries no parsable duration.
var ErrNoDuration = errors.New("no duration in ffmpeg output")

// ParseDuration extracts the first "Duration: HH:MM:SS.xx" value from ffmpeg output.
func ParseDuration(text string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, ErrNoDuration
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, ErrNoDuration
	}
	total := time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute +
		time.Duration(sec*float64(time.Second))
	return total, nil
}

// WriteConcatList writes an ffmpeg concat demuxer list for inputs.
func WriteConcatList(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	return nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

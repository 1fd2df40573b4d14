package codec

import (
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/asgeir/slickscreen/internal/media"
	"github.com/pkg/errors"
)

const stderrTail = 4096

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTail {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-stderrTail:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// process is an ffmpeg child fed on stdin and read on stdout.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailBuffer
	exited chan struct{}
	err    error
}

func startProcess(path string, args []string) (*process, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}
	p := &process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: &tailBuffer{}, exited: make(chan struct{})}
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", path)
	}
	return p, nil
}

// wait must be called once, after stdout has been drained.
func (p *process) wait() {
	p.err = p.cmd.Wait()
	if p.err != nil {
		if tail := p.stderr.String(); tail != "" {
			p.err = errors.Wrap(p.err, tail)
		}
	}
	close(p.exited)
}

// shutdown closes stdin and gives the child grace to exit before killing it.
func (p *process) shutdown(grace time.Duration) error {
	p.stdin.Close()
	select {
	case <-p.exited:
	case <-time.After(grace):
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		<-p.exited
	}
	return p.err
}

// packetQueue hands packets from the stdout reader to ReceivePacket.
type packetQueue struct {
	mu      sync.Mutex
	packets []media.Packet
	err     error
}

func (q *packetQueue) push(p media.Packet) {
	q.mu.Lock()
	q.packets = append(q.packets, p)
	q.mu.Unlock()
}

func (q *packetQueue) fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
}

func (q *packetQueue) failure() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *packetQueue) pop() (media.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.packets) > 0 {
		p := q.packets[0]
		q.packets[0] = media.Packet{}
		q.packets = q.packets[1:]
		return p, nil
	}
	if q.err != nil {
		return media.Packet{}, q.err
	}
	return media.Packet{}, ErrAgain
}

func readLoop(r io.Reader, logger *slog.Logger, handle func([]byte)) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			handle(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			logger.Debug("encoder output closed", "error", err)
			return err
		}
	}
}

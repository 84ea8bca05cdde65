package process

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/tasks"
	"github.com/RichardKnop/dispatcher/tracing"
	"github.com/RichardKnop/dispatcher/units/envelope"
)

// maxLineSize bounds a single envelope line read from the unit's stdout
const maxLineSize = 1024 * 1024

// Unit runs an external executable per task
type Unit struct {
	path   string
	args   []string
	stderr io.Writer
}

// New creates Unit instance running path with args
func New(path string, args ...string) *Unit {
	return &Unit{path: path, args: args, stderr: os.Stderr}
}

// SetStderr sets where the executable's stderr goes, os.Stderr by default
func (u *Unit) SetStderr(w io.Writer) {
	u.stderr = w
}

// Run starts the executable and blocks until it sends its first envelope
// or exits. A running unit cannot be cancelled, ctx is not watched.
func (u *Unit) Run(ctx context.Context, signature *tasks.Signature) (message interface{}, err error) {
	span := tracing.StartSpanFromHeaders(signature.Headers, "RunUnit")
	span.SetTag("unit.path", u.path)
	defer func() { tracing.FinishWithError(span, err) }()

	payload, err := envelope.EncodePayload(signature.Payload)
	if err != nil {
		return nil, tasks.NewErrInternalUnit(err)
	}

	cmd := exec.Command(u.path, u.args...)
	cmd.Env = append(os.Environ(), envelope.PayloadEnv+"="+payload)
	cmd.Stderr = u.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, tasks.NewErrInternalUnit(errors.Wrap(err, "open stdout"))
	}

	if err := cmd.Start(); err != nil {
		return nil, tasks.NewErrInternalUnit(errors.Wrapf(err, "start %s", u.path))
	}
	span.SetTag("unit.pid", cmd.Process.Pid)
	log.DEBUG.Printf("Started %s for task %d (pid %d)", u.path, signature.ID, cmd.Process.Pid)

	messages := make(chan *envelope.Envelope, 1)
	exited := make(chan error, 1)
	go func() {
		readEnvelopes(stdout, messages)
		exited <- cmd.Wait()
	}()

	select {
	case msg := <-messages:
		return settle(msg)
	case err := <-exited:
		// a message sent right before exiting still wins
		select {
		case msg := <-messages:
			return settle(msg)
		default:
		}
		return nil, exitError(err)
	}
}

// readEnvelopes hands the first non-empty line to messages and drains the rest,
// so the unit never blocks on a full pipe
func readEnvelopes(stdout io.Reader, messages chan<- *envelope.Envelope) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	sent := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !sent {
			messages <- envelope.Decode(append([]byte(nil), line...))
			sent = true
			continue
		}
		log.DEBUG.Printf("Ignoring extra unit output: %s", line)
	}
	if err := scanner.Err(); err != nil {
		log.WARNING.Printf("Reading unit output: %v", err)
	}
	io.Copy(io.Discard, stdout)
}

func settle(msg *envelope.Envelope) (interface{}, error) {
	if msg.IsError() {
		return nil, tasks.NewErrInternalUnit(errors.New(msg.Error))
	}
	return msg.Message, nil
}

// exitError maps the result of cmd.Wait for a unit that sent no message
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the unit was killed by a signal
		return tasks.NewErrAbnormalTermination(exitErr.ExitCode())
	}
	return tasks.NewErrInternalUnit(err)
}

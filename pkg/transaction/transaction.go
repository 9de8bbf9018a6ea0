/*
Package transaction drives a target SAM through prepared command lists.

Four orchestrators share the same shape: operations named Prepare* only queue commands,
and ProcessCommands runs the queue through a samcmd.Executor in one go.

  - Direct runs commands against the target SAM alone.
  - SecureWrite adds the writes whose payload is ciphered by a control SAM. The reads
    needed to derive the write challenges are scheduled automatically.
  - AsyncCreator prepares the same writes against a sam.Snapshot of an offline target
    and exports them as a batch instead of executing them.
  - AsyncExecutor runs an exported batch on the live target.

Writes of ceilings that fall in the same record are merged into one WRITE CEILINGS.
*/
package transaction

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
)

var (
	// ErrDynamicModeOffline is returned when an offline batch is requested for a SAM
	// whose challenges cannot be predicted.
	ErrDynamicModeOffline = errors.New("transaction: dynamic mode SAM cannot be prepared offline")
	// ErrSerialMismatch is returned when a batch was prepared for another SAM.
	ErrSerialMismatch = errors.New("transaction: batch serial number does not match the target SAM")
)

type options struct {
	log zerolog.Logger
}

// Option configures an orchestrator.
type Option func(*options)

// WithLogger sets the logger of the orchestrator and of its executors.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func newOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// base is the prepared command list shared by the orchestrators.
type base struct {
	ctx      samcmd.Context
	log      zerolog.Logger
	commands []samcmd.Command

	// scheduled keys the reads already queued, so that several operations needing
	// the same record read it once.
	scheduled map[string]bool
	// ceilings holds the pending WRITE CEILINGS per record.
	ceilings map[int]*samcmd.WriteCeilings
}

func newBase(ctx samcmd.Context, log zerolog.Logger) base {
	return base{
		ctx:       ctx,
		log:       log,
		scheduled: make(map[string]bool),
		ceilings:  make(map[int]*samcmd.WriteCeilings),
	}
}

func (b *base) prepare(cmd samcmd.Command) {
	b.commands = append(b.commands, cmd)
}

// once queues the command built by build unless key was already scheduled.
func (b *base) once(key string, build func() (samcmd.Command, error)) error {
	if b.scheduled[key] {
		return nil
	}
	cmd, err := build()
	if err != nil {
		return err
	}
	b.scheduled[key] = true
	b.prepare(cmd)
	return nil
}

// take empties the prepared list.
func (b *base) take() []samcmd.Command {
	cmds := b.commands
	b.commands = nil
	b.scheduled = make(map[string]bool)
	b.ceilings = make(map[int]*samcmd.WriteCeilings)
	return cmds
}

// Pending returns the number of prepared commands.
func (b *base) Pending() int { return len(b.commands) }

// ceilingWrite returns the pending write of record, creating it with newWrite when the
// record has none yet.
func (b *base) ceilingWrite(counter int, newWrite func(record int) (*samcmd.WriteCeilings, error)) (*samcmd.WriteCeilings, error) {
	record, err := sam.RecordOf(counter)
	if err != nil {
		return nil, err
	}
	if w, ok := b.ceilings[record]; ok {
		b.log.Debug().Int("counter", counter).Int("record", record).Msg("merged into pending ceiling write")
		return w, nil
	}
	w, err := newWrite(record)
	if err != nil {
		return nil, err
	}
	b.ceilings[record] = w
	b.prepare(w)
	return w, nil
}

// live is the part shared by orchestrators bound to a target SAM reader.
type live struct {
	base
	target *sam.State
	exec   *samcmd.Executor
}

func newLive(target *sam.State, r reader.Reader, ctx samcmd.Context, o options) live {
	return live{
		base:   newBase(ctx, o.log),
		target: target,
		exec:   samcmd.NewExecutor(r, samcmd.WithLogger(o.log.With().Str("sam", "target").Logger())),
	}
}

// ProcessCommands executes every prepared command on the target SAM. The prepared
// list is emptied even when the execution fails.
func (l *live) ProcessCommands() error {
	return l.run()
}

// Trace returns every exchange made with the target SAM.
func (l *live) Trace() iso7816.Trace { return l.exec.Trace() }

// Target returns the state of the target SAM.
func (l *live) Target() *sam.State { return l.target }

// run executes the prepared commands followed by extra.
func (l *live) run(extra ...samcmd.Command) error {
	cmds := append(l.take(), extra...)
	if len(cmds) == 0 {
		return nil
	}
	l.log.Debug().Int("commands", len(cmds)).Msg("processing commands")
	return l.exec.Execute(cmds)
}

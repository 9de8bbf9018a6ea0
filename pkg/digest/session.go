/*
Package digest computes the secure session MAC of a Calypso card session on a SAM.

Every byte exchanged with the card during the session is fed to the SAM digest, in the
order the card saw it. A Session buffers plaintext exchanges and only talks to the SAM
when it has to: the first flush opens the SAM session (DIGEST INIT), and buffered entries
are packed into as few DIGEST UPDATE commands as the SAM accepts.

	s := digest.New(target, samReader)
	_ = s.Init(openSessionData, digest.WorkKey{KIF: 0x30, KVC: 0x79, Diversifier: cardSerial})
	_ = s.Update(readRecordRequest, readRecordResponse)
	mac, _ := s.Close()
	ok, _ := s.AuthenticateCounterpart(cardMac)
*/
package digest

import (
	"bytes"
	"context"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
)

// Session states.
const (
	StateCreated       = "created"
	StateUninitialized = "uninitialized"
	StateAccumulating  = "accumulating"
	StateClosed        = "closed"
)

const (
	eventInit  = "init"
	eventOpen  = "open"
	eventClose = "close"
)

// maxPacked is the capacity of one DIGEST UPDATE MULTIPLE data field.
const maxPacked = 255

var (
	// ErrSessionState is returned when an operation is not allowed in the current state.
	ErrSessionState = errors.New("digest: operation not allowed in session state")
	// ErrEntryTooLarge is returned for an exchange the SAM cannot digest in one command.
	ErrEntryTooLarge = errors.New("digest: entry exceeds the maximum payload")
	// ErrExtendedModeUnsupported is returned by Init when extended mode is requested on a
	// product without it.
	ErrExtendedModeUnsupported = errors.New("digest: extended mode not supported by the SAM")
)

// WorkKey references the session key on the SAM. Diversifier, when set, is selected
// before DIGEST INIT unless the SAM already uses it.
type WorkKey struct {
	KIF         byte
	KVC         byte
	Diversifier []byte
}

// Session is one card secure session digest. It is not safe for concurrent use.
type Session struct {
	target *sam.State
	ctx    samcmd.Context
	exec   *samcmd.Executor
	log    zerolog.Logger
	state  *fsm.FSM

	maxPayload int
	extended   bool
	encrypted  bool

	openData []byte
	key      WorkKey
	buffer   [][]byte
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. It is also used by the session executor unless
// WithExecutor is given.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithExecutor sends the session commands through e, sharing its trace.
func WithExecutor(e *samcmd.Executor) Option {
	return func(s *Session) { s.exec = e }
}

// WithMaxPayload caps the data field of the digest commands, for readers that cannot
// carry the full product payload.
func WithMaxPayload(n int) Option {
	return func(s *Session) { s.maxPayload = n }
}

// WithExtendedMode opens the session in extended mode: 8-byte MACs and terminal
// signature generation.
func WithExtendedMode() Option {
	return func(s *Session) { s.extended = true }
}

// New creates a session on the target SAM reachable through r.
func New(target *sam.State, r reader.Reader, opts ...Option) *Session {
	s := &Session{
		target:     target,
		log:        zerolog.Nop(),
		maxPayload: target.Product().MaxPayload(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxPayload <= 0 || s.maxPayload > target.Product().MaxPayload() {
		s.maxPayload = target.Product().MaxPayload()
	}
	if s.exec == nil {
		s.exec = samcmd.NewExecutor(r, samcmd.WithLogger(s.log))
	}
	s.ctx = samcmd.Context{Target: target, Log: s.log}

	s.state = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventInit, Src: []string{StateCreated}, Dst: StateUninitialized},
			{Name: eventOpen, Src: []string{StateUninitialized}, Dst: StateAccumulating},
			{Name: eventClose, Src: []string{StateAccumulating}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("digest session")
			},
		},
	)
	return s
}

// State returns the current session state.
func (s *Session) State() string { return s.state.Current() }

// IsClosed reports whether the session MAC has been computed.
func (s *Session) IsClosed() bool { return s.state.Is(StateClosed) }

// IsEncrypted reports whether updates are currently ciphered by the SAM.
func (s *Session) IsEncrypted() bool { return s.encrypted }

// Init records the card open session data and the work key. Nothing is sent to the
// SAM until the first flush.
func (s *Session) Init(openData []byte, key WorkKey) error {
	if len(openData) == 0 {
		return errors.New("digest: open session data is empty")
	}
	if s.extended && !s.target.Product().SupportsExtendedMode() {
		return errors.Wrapf(ErrExtendedModeUnsupported, "%s", s.target.Product())
	}
	if err := s.fire(eventInit); err != nil {
		return err
	}
	s.openData = append([]byte(nil), openData...)
	s.key = WorkKey{KIF: key.KIF, KVC: key.KVC, Diversifier: append([]byte(nil), key.Diversifier...)}
	return nil
}

// ActivateEncryption makes the following updates go through the SAM one by one.
func (s *Session) ActivateEncryption() error {
	if err := s.requireOpenable(); err != nil {
		return err
	}
	s.encrypted = true
	return nil
}

func (s *Session) DeactivateEncryption() error {
	if err := s.requireOpenable(); err != nil {
		return err
	}
	s.encrypted = false
	return nil
}

// UpdateRequest feeds a card request to the digest and returns the bytes to send to
// the card. The trailing Le of a case 4 request is not digested.
//
// In plaintext mode the request is buffered and returned unchanged. With encryption
// active the buffer is flushed and the SAM returns the ciphered request.
func (s *Session) UpdateRequest(request []byte) ([]byte, error) {
	return s.update(iso7816.Case4Payload(request), request)
}

// UpdateResponse feeds a card response to the digest and returns the response as the
// application must read it (deciphered when encryption is active).
func (s *Session) UpdateResponse(response []byte) ([]byte, error) {
	return s.update(response, response)
}

// Update feeds a plaintext request/response pair.
func (s *Session) Update(request, response []byte) error {
	if _, err := s.UpdateRequest(request); err != nil {
		return err
	}
	_, err := s.UpdateResponse(response)
	return err
}

func (s *Session) update(entry, original []byte) ([]byte, error) {
	if err := s.requireOpenable(); err != nil {
		return nil, err
	}
	if len(entry) == 0 {
		return nil, errors.New("digest: empty update")
	}
	if len(entry) > s.maxPayload {
		return nil, errors.Wrapf(ErrEntryTooLarge, "%d bytes, maximum %d", len(entry), s.maxPayload)
	}

	if !s.encrypted {
		s.buffer = append(s.buffer, append([]byte(nil), entry...))
		return original, nil
	}

	update, err := samcmd.NewDigestUpdate(s.ctx, true, entry)
	if err != nil {
		return nil, err
	}
	if err := s.flush(update); err != nil {
		return nil, err
	}
	return update.Output(), nil
}

// Close flushes the buffer and returns the terminal session MAC: 8 bytes in extended
// mode, 4 otherwise.
func (s *Session) Close() ([]byte, error) {
	if err := s.requireOpenable(); err != nil {
		return nil, err
	}
	macLength := 4
	if s.extended {
		macLength = 8
	}
	closing, err := samcmd.NewDigestClose(s.ctx, macLength)
	if err != nil {
		return nil, err
	}
	if err := s.flush(closing); err != nil {
		return nil, err
	}
	if err := s.fire(eventClose); err != nil {
		return nil, err
	}
	return append([]byte(nil), closing.Output()...), nil
}

// AuthenticateCounterpart checks the card session MAC. An incorrect MAC is reported
// as false; any other failure is an error.
func (s *Session) AuthenticateCounterpart(mac []byte) (bool, error) {
	if !s.state.Is(StateClosed) {
		return false, errors.Wrapf(ErrSessionState, "%s", s.state.Current())
	}
	auth, err := samcmd.NewDigestAuthenticate(s.ctx, mac)
	if err != nil {
		return false, err
	}
	if err := s.exec.Execute([]samcmd.Command{auth}); err != nil {
		if samcmd.KindOfCommand(err, samcmd.KindDigestAuthenticate) == samcmd.SecurityData {
			s.log.Warn().Msg("card session MAC rejected")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GenerateTerminalSignature flushes the buffer and returns the 8-byte terminal
// signature of an extended mode session. The session stays open.
func (s *Session) GenerateTerminalSignature() ([]byte, error) {
	if !s.extended {
		return nil, errors.Wrap(ErrSessionState, "terminal signature requires extended mode")
	}
	if err := s.requireOpenable(); err != nil {
		return nil, err
	}
	sign := samcmd.NewDigestInternalAuthenticate(s.ctx)
	if err := s.flush(sign); err != nil {
		return nil, err
	}
	return append([]byte(nil), sign.Output()...), nil
}

// flush sends, in a single batch, the opening commands if the SAM session is not
// open yet, the buffered entries, then tail.
//
// On failure the session still counts as open when DIGEST INIT went through, and the
// entries the SAM already digested leave the buffer.
func (s *Session) flush(tail ...samcmd.Command) error {
	var commands []samcmd.Command
	var digestInit samcmd.Command

	opening := s.state.Is(StateUninitialized)
	if opening {
		open, err := s.openCommands()
		if err != nil {
			return err
		}
		digestInit = open[len(open)-1]
		commands = append(commands, open...)
	}

	updates, covered, err := s.updateCommands()
	if err != nil {
		return err
	}
	commands = append(commands, updates...)
	commands = append(commands, tail...)

	execErr := s.exec.Execute(commands)
	s.dropDigested(updates, covered)

	if opening && succeeded(digestInit) {
		if err := s.fire(eventOpen); err != nil {
			return err
		}
	}
	return execErr
}

// dropDigested removes from the buffer the entries of the leading updates that
// succeeded. covered[i] is the number of entries carried by updates[i].
func (s *Session) dropDigested(updates []samcmd.Command, covered []int) {
	n := 0
	for i, cmd := range updates {
		if !succeeded(cmd) {
			break
		}
		n += covered[i]
	}
	if n > 0 {
		s.log.Debug().Int("entries", n).Int("left", len(s.buffer)-n).Msg("digest entries sent")
	}
	s.buffer = s.buffer[n:]
	if len(s.buffer) == 0 {
		s.buffer = nil
	}
}

func succeeded(cmd samcmd.Command) bool {
	resp := cmd.Response()
	return resp != nil && resp.Status == iso7816.SW_NO_ERROR
}

func (s *Session) openCommands() ([]samcmd.Command, error) {
	var commands []samcmd.Command

	if len(s.key.Diversifier) > 0 && !bytes.Equal(s.key.Diversifier, s.target.LastDiversifier()) {
		sel, err := samcmd.NewSelectDiversifier(s.ctx, s.key.Diversifier)
		if err != nil {
			return nil, err
		}
		commands = append(commands, sel)
	}

	digestInit, err := samcmd.NewDigestInit(s.ctx, s.extended, s.key.KIF, s.key.KVC, s.openData)
	if err != nil {
		return nil, err
	}
	return append(commands, digestInit), nil
}

// updateCommands turns the buffer into DIGEST UPDATE commands, with the number of
// entries each one carries. Products that accept multiple records get consecutive
// entries packed as [length][bytes] up to the command capacity; an entry as large as
// the maximum payload always goes alone.
func (s *Session) updateCommands() ([]samcmd.Command, []int, error) {
	var commands []samcmd.Command
	var covered []int

	if !s.target.Product().SupportsDigestUpdateMultiple() {
		for _, entry := range s.buffer {
			cmd, err := samcmd.NewDigestUpdate(s.ctx, false, entry)
			if err != nil {
				return nil, nil, err
			}
			commands = append(commands, cmd)
			covered = append(covered, 1)
		}
		return commands, covered, nil
	}

	limit := min(maxPacked, s.maxPayload)
	var group [][]byte
	size := 0

	emit := func() error {
		defer func() { group, size = nil, 0 }()
		var cmd samcmd.Command
		var err error
		switch len(group) {
		case 0:
			return nil
		case 1:
			cmd, err = samcmd.NewDigestUpdate(s.ctx, false, group[0])
		default:
			cmd, err = samcmd.NewDigestUpdateMultiple(s.ctx, pack(group))
		}
		if err != nil {
			return err
		}
		commands = append(commands, cmd)
		covered = append(covered, len(group))
		return nil
	}

	for _, entry := range s.buffer {
		if len(entry) >= s.maxPayload {
			if err := emit(); err != nil {
				return nil, nil, err
			}
			group = [][]byte{entry}
			if err := emit(); err != nil {
				return nil, nil, err
			}
			continue
		}
		if size+1+len(entry) > limit {
			if err := emit(); err != nil {
				return nil, nil, err
			}
		}
		group = append(group, entry)
		size += 1 + len(entry)
	}
	if err := emit(); err != nil {
		return nil, nil, err
	}
	return commands, covered, nil
}

func pack(entries [][]byte) []byte {
	var out []byte
	for _, e := range entries {
		out = append(out, byte(len(e)))
		out = append(out, e...)
	}
	return out
}

// requireOpenable checks that the session was initialized and is not closed.
func (s *Session) requireOpenable() error {
	if s.state.Is(StateUninitialized) || s.state.Is(StateAccumulating) {
		return nil
	}
	return errors.Wrapf(ErrSessionState, "%s", s.state.Current())
}

func (s *Session) fire(event string) error {
	if !s.state.Can(event) {
		return errors.Wrapf(ErrSessionState, "cannot %s from %s", event, s.state.Current())
	}
	return s.state.Event(context.Background(), event)
}

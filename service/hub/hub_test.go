package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// fakeSender records everything written to it and can be told to fail.
type fakeSender struct {
	mu       sync.Mutex
	sent     [][]byte
	failSend bool

	closed      bool
	closeCode   int
	closeReason string
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeSender) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) closedWith() (bool, int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode, f.closeReason
}

type fakeDirectory struct {
	mu          sync.Mutex
	roles       map[string]string
	owners      map[string]string
	roleErr     error
	ownerErr    error
	roleLookups int
}

func (f *fakeDirectory) LookupRole(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleLookups++
	if f.roleErr != nil {
		return "", f.roleErr
	}
	return f.roles[userID], nil
}

func (f *fakeDirectory) LookupSessionOwner(ctx context.Context, sessionID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownerErr != nil {
		return "", false, f.ownerErr
	}
	owner, ok := f.owners[sessionID]
	return owner, ok, nil
}

func (f *fakeDirectory) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roleLookups
}

type fakePresence struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	touches     int
	sweeps      int
}

func (f *fakePresence) Connect(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return int64(f.connects), nil
}

func (f *fakePresence) Disconnect(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return 0, nil
}

func (f *fakePresence) Touch(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func (f *fakePresence) Sweep(ctx context.Context, staleness time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func (f *fakePresence) counts() (connects, disconnects, touches, sweeps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.touches, f.sweeps
}

type fakeAudit struct {
	mu       sync.Mutex
	saves    []string // "session/admin"
	deletes  []string
	cascades []string // admin ids
}

func (f *fakeAudit) SaveWatcher(ctx context.Context, sessionID, adminID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, sessionID+"/"+adminID)
	return nil
}

func (f *fakeAudit) DeleteWatcher(ctx context.Context, sessionID, adminID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, sessionID+"/"+adminID)
	return nil
}

func (f *fakeAudit) DeleteAdminWatches(ctx context.Context, adminID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cascades = append(f.cascades, adminID)
	return nil
}

func (f *fakeAudit) snapshot() (saves, deletes, cascades []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saves...),
		append([]string(nil), f.deletes...),
		append([]string(nil), f.cascades...)
}

type fakeReports struct {
	mu  sync.Mutex
	ops []string
}

func (f *fakeReports) Report(op, target string, delivered, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op+":"+target)
}

func (f *fakeReports) has(entry string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.ops {
		if v == entry {
			return true
		}
	}
	return false
}

// register is the test shorthand for one connected tab.
func register(t *testing.T, h *Hub, userID, sessionID string) (*Conn, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	c := NewConn(userID, sessionID, s)
	require.NoError(t, h.Register(context.Background(), c))
	return c, s
}

func TestSweeperRunsUntilShutdown(t *testing.T) {
	presence := &fakePresence{}
	h := New(Options{Presence: presence, SweepEvery: 10 * time.Millisecond})

	require.Eventually(t, func() bool {
		_, _, _, sweeps := presence.counts()
		return sweeps >= 2
	}, testWait, 5*time.Millisecond)

	h.Shutdown(context.Background())
	_, _, _, before := presence.counts()
	time.Sleep(50 * time.Millisecond)
	_, _, _, after := presence.counts()
	require.LessOrEqual(t, after, before+1)
}

func TestTouchPresenceForwardsToStore(t *testing.T) {
	presence := &fakePresence{}
	h := New(Options{Presence: presence})
	defer h.Shutdown(context.Background())

	h.TouchPresence("u1")
	require.Eventually(t, func() bool {
		_, _, touches, _ := presence.counts()
		return touches == 1
	}, testWait, 5*time.Millisecond)
}

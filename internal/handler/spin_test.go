package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/service"
)

type fakeSpinner struct {
	status service.SpinStatus
	result *service.SpinResult
	err    error
	spun   int
}

func (f *fakeSpinner) Status(context.Context, int64) service.SpinStatus { return f.status }

func (f *fakeSpinner) Spin(context.Context, int64, string) (*service.SpinResult, error) {
	f.spun++
	return f.result, f.err
}

func (f *fakeSpinner) Location() *time.Location { return time.UTC }

type chatCall struct {
	text    string
	replyTo bool
	at      time.Time
}

type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	failSends int
	editErr   error
	sends     []chatCall
	edits     []chatCall
}

func (f *fakeMessenger) Send(_ tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return nil, errors.New("chat not found")
	}
	call := chatCall{at: time.Now()}
	call.text, _ = what.(string)
	for _, opt := range opts {
		if so, ok := opt.(*tele.SendOptions); ok && so.ReplyTo != nil {
			call.replyTo = true
		}
	}
	f.sends = append(f.sends, call)
	f.nextID++
	return &tele.Message{ID: f.nextID, Chat: &tele.Chat{ID: -100}}, nil
}

func (f *fakeMessenger) Edit(_ tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	text, _ := what.(string)
	f.edits = append(f.edits, chatCall{text: text, at: time.Now()})
	return &tele.Message{}, nil
}

func (f *fakeMessenger) calls() ([]chatCall, []chatCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatCall(nil), f.sends...), append([]chatCall(nil), f.edits...)
}

func spinContext() tele.Context {
	return (*tele.Bot)(nil).NewContext(tele.Update{Message: &tele.Message{
		ID:     11,
		Sender: &tele.User{ID: 7, Username: "alice"},
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Text:   "/spin",
	}})
}

var wonResult = &service.SpinResult{Segment: 3, PointsWon: 5, Outcome: service.OutcomeWon, Credited: true, NewBalance: 25}

func TestSpinHandler_EditsResultIntoSpinningMessage(t *testing.T) {
	spins := &fakeSpinner{status: service.SpinStatus{CanSpin: true}, result: wonResult}
	msgr := &fakeMessenger{}
	h := NewSpinHandler(context.Background(), spins, msgr, nil, 0)

	require.NoError(t, h.HandleSpin(spinContext()))

	sends, edits := msgr.calls()
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].text, "旋转中")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].text, "获得 5 积分")
	assert.Equal(t, 1, spins.spun)
}

func TestSpinHandler_RecordFailureShownAfterAnimation(t *testing.T) {
	const delay = 80 * time.Millisecond
	spins := &fakeSpinner{status: service.SpinStatus{CanSpin: true}, err: service.ErrSpinNotRecorded}
	msgr := &fakeMessenger{}
	h := NewSpinHandler(context.Background(), spins, msgr, nil, delay)

	require.NoError(t, h.HandleSpin(spinContext()))

	sends, edits := msgr.calls()
	require.Len(t, sends, 1)
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].text, "未能记录")
	assert.GreaterOrEqual(t, edits[0].at.Sub(sends[0].at), delay, "error waits for the animation")
}

func TestSpinHandler_RepliesWhenSpinningMessageFailed(t *testing.T) {
	spins := &fakeSpinner{status: service.SpinStatus{CanSpin: true}, result: wonResult}
	msgr := &fakeMessenger{failSends: 1}
	h := NewSpinHandler(context.Background(), spins, msgr, nil, 0)

	require.NoError(t, h.HandleSpin(spinContext()))

	sends, edits := msgr.calls()
	assert.Empty(t, edits)
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].text, "获得 5 积分")
	assert.True(t, sends[0].replyTo)
}

func TestSpinHandler_RepliesWhenEditFails(t *testing.T) {
	spins := &fakeSpinner{status: service.SpinStatus{CanSpin: true}, err: service.ErrAlreadySpun}
	msgr := &fakeMessenger{editErr: errors.New("message to edit not found")}
	h := NewSpinHandler(context.Background(), spins, msgr, nil, 0)

	require.NoError(t, h.HandleSpin(spinContext()))

	sends, _ := msgr.calls()
	require.Len(t, sends, 2)
	assert.Contains(t, sends[1].text, "今天已经转过了")
	assert.True(t, sends[1].replyTo)
}

func TestSpinHandler_AlreadySpunSkipsTheWheel(t *testing.T) {
	spins := &fakeSpinner{status: service.SpinStatus{CanSpin: false, NextSpinAt: time.Now().Add(time.Hour)}}
	msgr := &fakeMessenger{}
	h := NewSpinHandler(context.Background(), spins, msgr, nil, time.Hour)

	require.NoError(t, h.HandleSpin(spinContext()))

	sends, edits := msgr.calls()
	assert.Zero(t, spins.spun)
	assert.Empty(t, edits)
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].text, "今天已经转过了")
}

func TestSpinHandler_ReturnsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	spins := &fakeSpinner{status: service.SpinStatus{CanSpin: true}, result: wonResult}
	msgr := &fakeMessenger{}
	h := NewSpinHandler(ctx, spins, msgr, nil, time.Hour)

	done := make(chan error, 1)
	go func() { done <- h.HandleSpin(spinContext()) }()

	require.Eventually(t, func() bool {
		sends, _ := msgr.calls()
		return len(sends) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("spin handler kept waiting after shutdown")
	}
	_, edits := msgr.calls()
	assert.Empty(t, edits)
}

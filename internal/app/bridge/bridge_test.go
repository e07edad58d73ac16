package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateConference(ctx context.Context, req core.ConferenceRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCall(ctx context.Context, req core.CallRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) EndCall(ctx context.Context, legID string) error {
	return m.Called(ctx, legID).Error(0)
}

func callTo(addr string) any {
	return mock.MatchedBy(func(r core.CallRequest) bool { return r.To == addr })
}

func TestCreateConference_AllLegsFailIsNotAnError(t *testing.T) {
	gw := new(mockGateway)
	providerErr := errors.New("21214: 'To' phone number cannot be reached")
	gw.On("CreateConference", mock.Anything, mock.Anything).Return("CF123", nil)
	gw.On("CreateCall", mock.Anything, callTo("+15551234567")).Return("", providerErr)

	c := NewCoordinator(gw, Config{From: "+15550000000"})
	res, err := c.CreateConference(context.Background(), "call-abc", []Target{
		{Address: "+15551234567", IsBridgeable: true},
	})

	require.NoError(t, err)
	assert.Empty(t, res.Legs)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "+15551234567", res.Failed[0].Address)
	assert.ErrorIs(t, res.Failed[0], providerErr)
	assert.True(t, res.AllFailed())
	assert.Equal(t, []string{"+15551234567"}, res.FailedAddresses())
	gw.AssertExpectations(t)
}

func TestCreateConference_PartialSuccess(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreateConference", mock.Anything, core.ConferenceRequest{
		Name:         "conference-s1",
		StartOnEnter: true,
		EndOnExit:    false,
		Record:       true,
	}).Return("CF1", nil)
	gw.On("CreateCall", mock.Anything, callTo("+15550000001")).Return("CA1", nil)
	gw.On("CreateCall", mock.Anything, callTo("+15550000002")).Return("", errors.New("busy"))
	gw.On("CreateCall", mock.Anything, callTo("+15550000003")).Return("CA3", nil)

	c := NewCoordinator(gw, Config{From: "+15550000000", StatusCallbackURL: "https://cb.example.com/call", Record: true})
	res, err := c.CreateConference(context.Background(), "s1", []Target{
		{Address: "+15550000001", IsBridgeable: true},
		{Address: "+15550000002", IsBridgeable: true},
		{Address: "client:agent-7", IsBridgeable: true},
		{Address: "+15550000003", IsBridgeable: true},
		{Address: "+15550000004", IsBridgeable: false},
	})

	require.NoError(t, err)
	assert.Equal(t, "CF1", res.ConferenceID)
	assert.Equal(t, "conference-s1", res.ConferenceName)
	assert.Equal(t, []domain.ConferenceLeg{
		{LegID: "CA1", TargetAddress: "+15550000001", ConferenceID: "CF1"},
		{LegID: "CA3", TargetAddress: "+15550000003", ConferenceID: "CF1"},
	}, res.Legs)
	assert.Equal(t, []string{"+15550000002"}, res.FailedAddresses())
	assert.False(t, res.AllFailed())
	gw.AssertNumberOfCalls(t, "CreateCall", 3)

	for _, call := range gw.Calls {
		if call.Method != "CreateCall" {
			continue
		}
		req := call.Arguments.Get(1).(core.CallRequest)
		assert.Equal(t, "+15550000000", req.From)
		assert.Equal(t, "https://cb.example.com/call", req.StatusCallback)
		assert.Equal(t, GenerateJoinInstructions("conference-s1", c.JoinOptions()), req.Instructions)
		assert.Equal(t, DefaultLegTimeout, req.RingTimeout)
	}
}

func TestCreateConference_GatewayUnavailable(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreateConference", mock.Anything, mock.Anything).Return("", core.ErrGatewayUnavailable)

	c := NewCoordinator(gw, Config{})
	res, err := c.CreateConference(context.Background(), "s1", []Target{{Address: "+15551234567", IsBridgeable: true}})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, core.ErrGatewayUnavailable)
	gw.AssertNotCalled(t, "CreateCall", mock.Anything, mock.Anything)
}

func TestCreateConference_LegTimeout(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreateConference", mock.Anything, mock.Anything).Return("CF1", nil)
	gw.On("CreateCall", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	c := NewCoordinator(gw, Config{LegTimeout: 20 * time.Millisecond})
	start := time.Now()
	res, err := c.CreateConference(context.Background(), "s1", []Target{{Address: "+15551234567", IsBridgeable: true}})

	require.NoError(t, err)
	assert.True(t, res.AllFailed())
	assert.ErrorIs(t, res.Failed[0], context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCreateConference_NoTelephonyTargets(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreateConference", mock.Anything, mock.Anything).Return("CF1", nil)

	c := NewCoordinator(gw, Config{})
	res, err := c.CreateConference(context.Background(), "s1", []Target{{Address: "client:agent", IsBridgeable: true}})

	require.NoError(t, err)
	assert.Empty(t, res.Legs)
	assert.False(t, res.AllFailed())
	gw.AssertNotCalled(t, "CreateCall", mock.Anything, mock.Anything)
}

func TestEndLeg(t *testing.T) {
	gw := new(mockGateway)
	gw.On("EndCall", mock.Anything, "CA1").Return(nil)
	gw.On("EndCall", mock.Anything, "CA2").Return(core.ErrLegNotFound)
	gw.On("EndCall", mock.Anything, "CA3").Return(core.ErrGatewayUnavailable)
	c := NewCoordinator(gw, Config{})
	ctx := context.Background()

	assert.NoError(t, c.EndLeg(ctx, "CA1"))
	assert.NoError(t, c.EndLeg(ctx, "CA2"))
	assert.ErrorIs(t, c.EndLeg(ctx, "CA3"), core.ErrGatewayUnavailable)
	assert.Error(t, c.EndLeg(ctx, ""))
}

func TestGenerateJoinInstructions(t *testing.T) {
	opts := JoinOptions{StartOnEnter: true, EndOnExit: false}
	first := GenerateJoinInstructions("room-42", opts)
	second := GenerateJoinInstructions("room-42", opts)

	assert.Equal(t, first, second)
	assert.Equal(t,
		`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
			`<Response><Dial><Conference startConferenceOnEnter="true" endConferenceOnExit="false">room-42</Conference></Dial></Response>`,
		first)

	full := GenerateJoinInstructions("a&b", JoinOptions{
		StartOnEnter: true,
		EndOnExit:    true,
		HoldMusicURL: "https://music.example.com/hold.mp3",
		Record:       true,
	})
	assert.Contains(t, full, `endConferenceOnExit="true"`)
	assert.Contains(t, full, `waitUrl="https://music.example.com/hold.mp3"`)
	assert.Contains(t, full, `record="record-from-start"`)
	assert.Contains(t, full, `>a&amp;b</Conference>`)
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		kind EventKind
		raw  string
		want string
	}{
		{EventCall, "in-progress", "answered"},
		{EventCall, "Ringing", "ringing"},
		{EventCall, "no-answer", "completed"},
		{EventConference, "participant-join", "join"},
		{EventConference, "conference-end", "end"},
		{EventRecording, "completed", "ready"},
		{EventCall, "teleported", "unknown"},
		{EventKind("fax"), "completed", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStatus(tt.kind, tt.raw), "%s/%s", tt.kind, tt.raw)
	}
}

package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	*s.log = append(*s.log, "start:"+s.name)
	return s.startErr
}

func (s *recordingService) Stop(context.Context) error {
	*s.log = append(*s.log, "stop:"+s.name)
	return s.stopErr
}

func TestManager_StartStopOrder(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", log: &log}))
	require.NoError(t, m.Register(&recordingService{name: "b", log: &log}))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))

	require.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log)
}

func TestManager_RejectsDuplicateNames(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", log: &log}))
	require.Error(t, m.Register(&recordingService{name: "a", log: &log}))
}

func TestManager_RejectsRegisterAfterStart(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", log: &log}))
	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Register(&recordingService{name: "b", log: &log}))
}

func TestManager_StartFailureUnwinds(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", log: &log}))
	require.NoError(t, m.Register(&recordingService{name: "b", startErr: errors.New("boom"), log: &log}))
	require.NoError(t, m.Register(&recordingService{name: "c", log: &log}))

	err := m.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "start b")
	require.Equal(t, []string{"start:a", "start:b", "stop:a"}, log, "already-started services unwind in reverse")
}

func TestNoopService(t *testing.T) {
	svc := NoopService{ServiceName: "placeholder"}
	require.Equal(t, "placeholder", svc.Name())
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
}

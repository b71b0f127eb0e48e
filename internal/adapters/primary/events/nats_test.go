package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type maintenanceMock struct{ mock.Mock }

func (m *maintenanceMock) ScanAndRepair(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestRepairReply(t *testing.T) {
	svc := new(maintenanceMock)
	svc.On("ScanAndRepair", mock.Anything).Return(3, nil).Once()
	svc.On("ScanAndRepair", mock.Anything).Return(1, errors.New("scan interrupted")).Once()
	h := NewMaintenanceHandler(svc)

	assert.Equal(t, RepairReply{Repaired: 3}, h.repair(context.Background()))
	assert.Equal(t, RepairReply{Repaired: 1, Error: "scan interrupted"}, h.repair(context.Background()))
	svc.AssertExpectations(t)
}

func TestRepairOverNats(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	svc := new(maintenanceMock)
	svc.On("ScanAndRepair", mock.Anything).Return(2, nil)
	sub, err := NewMaintenanceHandler(svc).Subscribe(nc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	msg, err := nc.Request(SubjectRepair, nil, 5*time.Second)
	require.NoError(t, err)

	var reply RepairReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.Equal(t, 2, reply.Repaired)
	assert.Empty(t, reply.Error)
}

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aureus-Network/settlement_layer/internal/app/system"
	"github.com/Aureus-Network/settlement_layer/internal/config"
)

func TestNew_Defaults(t *testing.T) {
	application, err := New(config.Default(), Stores{}, Options{}, nil)
	require.NoError(t, err)
	require.NotNil(t, application.Settlement)
	require.Nil(t, application.Ledger, "no endpoints means no ledger client")

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestNew_WithLedgerEndpoints(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.Endpoints = []string{"http://ledger-a:8545"}

	application, err := New(cfg, Stores{}, Options{}, nil)
	require.NoError(t, err)
	require.NotNil(t, application.Ledger)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Settlement.FeeRate = "not a number"

	_, err := New(cfg, Stores{}, Options{}, nil)
	require.Error(t, err)
}

func TestApplication_AttachBeforeStart(t *testing.T) {
	application, err := New(config.Default(), Stores{}, Options{}, nil)
	require.NoError(t, err)

	require.NoError(t, application.Attach(system.NoopService{ServiceName: "extra"}))

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.Error(t, application.Attach(system.NoopService{ServiceName: "late"}), "attach after start must fail")
	require.NoError(t, application.Stop(ctx))
}

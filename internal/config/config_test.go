package config

import (
	"testing"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cleanenv.ReadEnv(&cfg))

	require.Equal(t, "local", cfg.Env)
	require.Equal(t, ":3000", cfg.HTTP.Port)
	require.Equal(t, 4*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, "mall.events", cfg.Rabbit.Exchange)
	require.Equal(t, "topic", cfg.Rabbit.ExchangeType)
	require.Equal(t, "payment.order.paid", cfg.Rabbit.RoutingKey)
	require.Equal(t, 10, cfg.Rabbit.Prefetch)
	require.Equal(t, 25, cfg.Rabbit.MaxAttempts)
	require.Equal(t, "delivery.order.paid", cfg.Delivery.Queue)
	require.Equal(t, "wms.order.paid", cfg.WMS.Queue)
	require.Zero(t, cfg.WMS.DeductLocationID)
	require.Equal(t, "info", cfg.Logger.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", ":8080")
	t.Setenv("RABBITMQ_MAX_ATTEMPTS", "3")
	t.Setenv("WMS_DEDUCT_LOCATION_ID", "7")

	var cfg Config
	require.NoError(t, cleanenv.ReadEnv(&cfg))

	require.Equal(t, ":8080", cfg.HTTP.Port)
	require.Equal(t, 3, cfg.Rabbit.MaxAttempts)
	require.Equal(t, int64(7), cfg.WMS.DeductLocationID)
}

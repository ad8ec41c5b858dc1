package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchedulerAddressListValueErrorHelp(t *testing.T) {
	v := &SchedulerAddressListValue{}
	err := v.Set("localhost:9000,127.*.*.*,127.0.0.1:9021")
	require.Error(t, err)
	require.Equal(t, "expected scheduler address of form host:port but got 127.*.*.*", err.Error())
}

func TestNewConfigFromFlagsDefaults(t *testing.T) {
	cfg, err := newConfigFromFlags([]string{"coordinatord"})
	require.NoError(t, err)
	require.Equal(t, defaultListenAddress, cfg.ListenAddress)
	require.Equal(t, defaultEventBuffer, cfg.EventBuffer)
	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromFlagsSchedulerAddresses(t *testing.T) {
	cfg, err := newConfigFromFlags([]string{"coordinatord", "-scheduler-addresses", "10.0.0.1:9000,10.0.0.2:9000"})
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000"}, cfg.SchedulerAddresses)
}

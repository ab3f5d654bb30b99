package channel_test

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bg9m9r/whispr-sub001/pkg/channel"
)

func TestRegisterClientIDBindsToUser(t *testing.T) {
	reg := channel.NewEndpointRegistry()
	userID := uuid.New()

	reg.RegisterClientID(424242, userID)

	resolved, ok := reg.ResolveUser(424242)
	require.True(t, ok)
	require.Equal(t, userID, resolved)

	backID, ok := reg.ResolveClientID(userID)
	require.True(t, ok)
	require.Equal(t, uint32(424242), backID)
}

func TestRegisterClientIDReplacesPriorBindingForSameUser(t *testing.T) {
	reg := channel.NewEndpointRegistry()
	userID := uuid.New()

	reg.RegisterClientID(1, userID)
	reg.RegisterClientID(2, userID)

	_, ok := reg.ResolveUser(1)
	require.False(t, ok, "old clientID must be released when a user re-registers a new one")
	resolved, ok := reg.ResolveUser(2)
	require.True(t, ok)
	require.Equal(t, userID, resolved)
}

func TestRegisterClientIDReplacesPriorBindingForSameClientID(t *testing.T) {
	reg := channel.NewEndpointRegistry()
	first := uuid.New()
	second := uuid.New()

	reg.RegisterClientID(7, first)
	reg.RegisterClientID(7, second)

	resolved, ok := reg.ResolveUser(7)
	require.True(t, ok)
	require.Equal(t, second, resolved)
	_, ok = reg.ResolveClientID(first)
	require.False(t, ok, "the first user's binding must be dropped when its clientID is claimed by someone else")
}

func TestRegisterClientIDPreservesAddressWhenUnchanged(t *testing.T) {
	reg := channel.NewEndpointRegistry()
	userID := uuid.New()
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}

	reg.RegisterClientID(9, userID)
	reg.RefreshEndpoint(9, addr)

	reg.RegisterClientID(9, userID)
	got, ok := reg.Endpoint(9)
	require.True(t, ok)
	require.Equal(t, addr, got, "re-registering the same clientID for the same user must not drop its known address")
}

func TestRefreshEndpointTracksLatestAddress(t *testing.T) {
	reg := channel.NewEndpointRegistry()
	userID := uuid.New()
	reg.RegisterClientID(5, userID)

	addr1 := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}
	addr2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}

	reg.RefreshEndpoint(5, addr1)
	got, ok := reg.Endpoint(5)
	require.True(t, ok)
	require.Equal(t, addr1, got)

	reg.RefreshEndpoint(5, addr2)
	got, ok = reg.Endpoint(5)
	require.True(t, ok)
	require.Equal(t, addr2, got, "endpoint must rebind to a new source address without re-registering")
}

func TestRefreshEndpointIgnoresUnknownClientID(t *testing.T) {
	reg := channel.NewEndpointRegistry()
	reg.RefreshEndpoint(12345, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000})
	_, ok := reg.Endpoint(12345)
	require.False(t, ok)
}

func TestUnregisterUserClearsAllMappings(t *testing.T) {
	reg := channel.NewEndpointRegistry()
	userID := uuid.New()
	reg.RegisterClientID(3, userID)
	reg.RefreshEndpoint(3, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000})

	reg.UnregisterUser(userID)

	_, ok := reg.ResolveUser(3)
	require.False(t, ok)
	_, ok = reg.ResolveClientID(userID)
	require.False(t, ok)
	_, ok = reg.Endpoint(3)
	require.False(t, ok)
}

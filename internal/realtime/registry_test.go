package realtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/realtime"
)

func TestSubscribeUnsubscribe_BidirectionalConsistency(t *testing.T) {
	r := realtime.NewRegistry()
	r.Register("sid-1", "alice", "session-a")

	result := r.Subscribe("sid-1", "CVE-2024-1111")
	assert.Equal(t, 1, result.SubscriberCount)
	assert.Contains(t, result.Subscribers, "alice")

	result = r.Unsubscribe("sid-1", "CVE-2024-1111")
	assert.Equal(t, 0, result.SubscriberCount)
}

func TestUnsubscribe_OrphanCleanup_KeepsSubscriptionWhileAnotherSessionHoldsIt(t *testing.T) {
	r := realtime.NewRegistry()
	r.Register("sid-1", "alice", "session-a")
	r.Register("sid-2", "alice", "session-b")

	r.Subscribe("sid-1", "CVE-2024-2222")
	r.Subscribe("sid-2", "CVE-2024-2222")

	result := r.Unsubscribe("sid-1", "CVE-2024-2222")
	assert.Equal(t, 1, result.SubscriberCount, "second session for alice still holds the subscription")
	assert.Contains(t, result.Subscribers, "alice")

	result = r.Unsubscribe("sid-2", "CVE-2024-2222")
	assert.Equal(t, 0, result.SubscriberCount)
}

func TestRemove_CleansEveryMap(t *testing.T) {
	r := realtime.NewRegistry()
	r.Register("sid-1", "bob", "session-c")
	r.Subscribe("sid-1", "CVE-2024-3333")

	r.Remove("sid-1")

	assert.Empty(t, r.SIDsForUser("bob"))
	assert.Empty(t, r.SubscribersOf("CVE-2024-3333"))
	assert.Empty(t, r.AllSIDs())

	stats := r.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.AuthenticatedUsers)
	assert.Equal(t, 0, stats.Subscriptions)
}

func TestCleanupBySessionID_RemovesEveryTabForThatLogicalSession(t *testing.T) {
	r := realtime.NewRegistry()
	r.Register("sid-1", "carol", "session-d")
	r.Register("sid-2", "carol", "session-d")
	r.Register("sid-3", "carol", "session-e")

	r.CleanupBySessionID("session-d")

	sids := r.SIDsForUser("carol")
	assert.Equal(t, []string{"sid-3"}, sids)
}

func TestUnsubscribe_UnknownSessionIsNoop(t *testing.T) {
	r := realtime.NewRegistry()
	result := r.Unsubscribe("does-not-exist", "CVE-2024-4444")
	assert.Equal(t, 0, result.SubscriberCount)
}

func TestSubscribe_AnonymousSessionTracksLocallyWithoutUserFanout(t *testing.T) {
	r := realtime.NewRegistry()
	r.Register("sid-1", "", "session-f")

	result := r.Subscribe("sid-1", "CVE-2024-5555")
	assert.Equal(t, 0, result.SubscriberCount, "unauthenticated sessions never appear in cve_subscribers")
}

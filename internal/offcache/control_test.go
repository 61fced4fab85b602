package offcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postAndWaitReply(t *testing.T, svc *Service, msgType string) any {
	t.Helper()
	reply := make(chan any, 1)
	svc.Post(Message{Type: msgType, Reply: reply})
	select {
	case v := <-reply:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply for %s", msgType)
		return nil
	}
}

func TestCacheStatsMessage(t *testing.T) {
	t.Parallel()

	svc, _ := mockOrigin(t)
	require.NoError(t, svc.api.Put("/api/a", testEntry("a", 1048576, 1)))
	require.NoError(t, svc.api.Put("/api/b", testEntry("b", 2097152, 2)))

	reply := postAndWaitReply(t, svc, MsgCacheStats)
	stats, ok := reply.(map[string]BucketStats)
	require.True(t, ok, "reply type %T", reply)

	assert.Equal(t, BucketStats{Entries: 2, Size: 3145728, SizeFormatted: "3.00 MB"}, stats[bucketAPI])
	assert.Equal(t, BucketStats{Entries: 0, Size: 0, SizeFormatted: "0 B"}, stats[bucketVideos])
	assert.Len(t, stats, 4, "one record per logical bucket")
}

func TestClearCacheMessage(t *testing.T) {
	t.Parallel()

	svc, _ := mockOrigin(t)
	require.NoError(t, svc.static.Put("/", testEntry("shell", 5, 0)))
	require.NoError(t, svc.videos.Put("/videos/intro.mp4", testEntry("vid", 9, 1)))

	reply := postAndWaitReply(t, svc, MsgClearCache)
	assert.Equal(t, ClearCacheReply{Success: true}, reply)

	assert.Zero(t, svc.static.Count())
	assert.Zero(t, svc.videos.Count())
}

func TestClearCacheWithoutReplyPort(t *testing.T) {
	t.Parallel()

	svc, _ := mockOrigin(t)
	require.NoError(t, svc.static.Put("/", testEntry("shell", 5, 0)))

	svc.Post(Message{Type: MsgClearCache})
	require.Eventually(t, func() bool { return svc.static.Count() == 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestUnknownMessagesAreIgnored(t *testing.T) {
	t.Parallel()

	svc, _ := mockOrigin(t)

	ignored := make(chan any, 1)
	svc.Post(Message{Type: "REINSTALL_EVERYTHING", Reply: ignored})

	// the loop is still alive and the bogus message produced no reply
	reply := postAndWaitReply(t, svc, MsgCacheStats)
	assert.IsType(t, map[string]BucketStats{}, reply)
	assert.Empty(t, ignored)
}

func TestSkipWaitingMessageActivates(t *testing.T) {
	t.Parallel()

	svc, mt := mockOrigin(t)
	mt.RegisterResponder("GET", `=~.`, sizedResponder(200, "text/html", "asset"))

	// install leaves the worker waiting until something signals activation
	svc.lifecycle.setState(StateWaiting)
	svc.Post(Message{Type: MsgSkipWaiting})

	require.Eventually(t, func() bool { return svc.lifecycle.State() == StateActive },
		5*time.Second, 10*time.Millisecond)
}

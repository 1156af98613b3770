package conventions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/wavemig/internal/conventions"
)

func TestArtifactPaths(t *testing.T) {
	tests := map[string]struct {
		sourceID string
		targetID string
		expLock  string
		expLog   string
	}{
		"Regular IDs should be used as is": {
			sourceID: "123",
			targetID: "abc",
			expLock:  "/locks/migration_123_abc.lock",
			expLog:   "/logs/migration_123_abc.log",
		},
		"Path separators should not escape the directory": {
			sourceID: "../etc",
			targetID: "a/b",
			expLock:  "/locks/migration_..%2Fetc_a%2Fb.lock",
			expLog:   "/logs/migration_..%2Fetc_a%2Fb.log",
		},
		"Underscores in IDs should be escaped": {
			sourceID: "a_b",
			targetID: "c",
			expLock:  "/locks/migration_a%5Fb_c.lock",
			expLog:   "/logs/migration_a%5Fb_c.log",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expLock, conventions.LockFilePath("/locks", test.sourceID, test.targetID))
			assert.Equal(t, test.expLog, conventions.LogFilePath("/logs", test.sourceID, test.targetID))
		})
	}
}

func TestArtifactNamesDontCollide(t *testing.T) {
	pairs := [][2]string{{"a_b", "c"}, {"a", "b_c"}, {"a%5Fb", "c"}, {"a/b", "c"}}

	seen := map[string][2]string{}
	for _, p := range pairs {
		name := conventions.ArtifactName(p[0], p[1])
		prev, ok := seen[name]
		assert.False(t, ok, "%v and %v share artifact name %q", prev, p, name)
		seen[name] = p
	}
}

func TestCacheFilePath(t *testing.T) {
	p1 := conventions.CacheFilePath("/cache", "s1", "t1")
	p2 := conventions.CacheFilePath("/cache", "s1", "t1")
	p3 := conventions.CacheFilePath("/cache", "s1", "t2")

	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3)
	assert.Len(t, conventions.CacheKey("s1", "t1"), 16)
	assert.Equal(t, "/cache/"+conventions.CacheKey("s1", "t1")+".json", p1)
}

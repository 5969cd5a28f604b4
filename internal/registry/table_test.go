package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func groupOf(upstreams ...Upstream) *UpstreamGroup {
	return &UpstreamGroup{Upstreams: upstreams}
}

func TestLookupExactBeatsWildcard(t *testing.T) {
	exact := &VirtualHost{Name: "a.example"}
	wildcard := &VirtualHost{Name: "*.a.example"}
	table, err := NewTable([]*VirtualHost{exact, wildcard})
	require.NoError(t, err)

	got, ok := table.Lookup("a.example")
	require.True(t, ok)
	require.Same(t, exact, got)
}

func TestLookupMostSpecificWildcardWins(t *testing.T) {
	broad := &VirtualHost{Name: "*.example"}
	narrow := &VirtualHost{Name: "*.b.example"}
	table, err := NewTable([]*VirtualHost{broad, narrow})
	require.NoError(t, err)

	got, ok := table.Lookup("x.b.example")
	require.True(t, ok)
	require.Same(t, narrow, got)
}

func TestWildcardDoesNotMatchBareSuffix(t *testing.T) {
	// "*.a.b" matches "x.a.b" but not "a.b" itself.
	table, err := NewTable([]*VirtualHost{{Name: "*.a.b"}})
	require.NoError(t, err)

	_, ok := table.Lookup("a.b")
	require.False(t, ok)

	_, ok = table.Lookup("x.a.b")
	require.True(t, ok)
}

func TestLookupFallsBackToDefault(t *testing.T) {
	def := &VirtualHost{Name: "default.example", Default: true}
	table, err := NewTable([]*VirtualHost{def})
	require.NoError(t, err)

	got, ok := table.Lookup("unknown.example")
	require.True(t, ok)
	require.Same(t, def, got)
}

func TestLookupNoMatchNoDefault(t *testing.T) {
	table, err := NewTable([]*VirtualHost{{Name: "a.example"}})
	require.NoError(t, err)

	_, ok := table.Lookup("unknown.example")
	require.False(t, ok)
}

func TestNewTableRejectsDuplicateDefault(t *testing.T) {
	_, err := NewTable([]*VirtualHost{
		{Name: "a.example", Default: true},
		{Name: "b.example", Default: true},
	})
	require.Error(t, err)
	var dup *DuplicateDefaultError
	require.ErrorAs(t, err, &dup)
}

func TestMatchPathLongestPrefixWins(t *testing.T) {
	host := &VirtualHost{
		Rules: []PathRule{
			{Prefix: "/api", Group: groupOf(Upstream{Host: "up1"}), DeclOrder: 0},
			{Prefix: "/api/v2", Group: groupOf(Upstream{Host: "up2"}), DeclOrder: 1},
		},
	}

	r, ok := MatchPath(host, "/api/v2/users")
	require.True(t, ok)
	require.Equal(t, "up2", r.Group.Upstreams[0].Host)

	r, ok = MatchPath(host, "/api/v1/users")
	require.True(t, ok)
	require.Equal(t, "up1", r.Group.Upstreams[0].Host)
}

func TestMatchPathTieBreaksOnDeclarationOrder(t *testing.T) {
	host := &VirtualHost{
		Rules: []PathRule{
			{Prefix: "/api", Group: groupOf(Upstream{Host: "first"}), DeclOrder: 0},
			{Prefix: "/api", Group: groupOf(Upstream{Host: "second"}), DeclOrder: 1},
		},
	}
	r, ok := MatchPath(host, "/api/x")
	require.True(t, ok)
	require.Equal(t, "first", r.Group.Upstreams[0].Host)
}

func TestMatchPathNoneMatches(t *testing.T) {
	host := &VirtualHost{Rules: []PathRule{{Prefix: "/api", Group: groupOf(Upstream{Host: "up1"})}}}
	_, ok := MatchPath(host, "/other")
	require.False(t, ok)
}

func TestRewritePath(t *testing.T) {
	r := &PathRule{Prefix: "/api/v2", Replace: "/v2"}
	require.Equal(t, "/v2/users", RewritePath(r, "/api/v2/users"))

	noRewrite := &PathRule{Prefix: "/api"}
	require.Equal(t, "/api/users", RewritePath(noRewrite, "/api/users"))
}

func TestPickRoundRobinCyclesDeterministically(t *testing.T) {
	g := &UpstreamGroup{
		Balancer:  LBRoundRobin,
		Upstreams: []Upstream{{Host: "a"}, {Host: "b"}, {Host: "c"}},
	}
	var seq []string
	for i := 0; i < 6; i++ {
		seq = append(seq, g.Pick(nil, "").Host)
	}
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seq)
}

func TestPickNoneAlwaysFirst(t *testing.T) {
	g := &UpstreamGroup{Balancer: LBNone, Upstreams: []Upstream{{Host: "a"}, {Host: "b"}}}
	require.Equal(t, "a", g.Pick(nil, "").Host)
	require.Equal(t, "a", g.Pick(nil, "").Host)
}

func TestPickStickyCookieIsStableForSameValue(t *testing.T) {
	g := &UpstreamGroup{
		Balancer:  LBStickyCookie,
		Upstreams: []Upstream{{Host: "a"}, {Host: "b"}, {Host: "c"}},
	}
	first := g.Pick(nil, "session-123").Host
	second := g.Pick(nil, "session-123").Host
	require.Equal(t, first, second)
}

func TestRegistrySwapIsAtomic(t *testing.T) {
	t1, err := NewTable([]*VirtualHost{{Name: "a.example"}})
	require.NoError(t, err)
	reg := NewRegistry(t1)
	require.Same(t, t1, reg.Current())

	t2, err := NewTable([]*VirtualHost{{Name: "b.example"}})
	require.NoError(t, err)
	reg.Swap(t2)
	require.Same(t, t2, reg.Current())
}

func TestUpstreamAuthority(t *testing.T) {
	u := Upstream{Host: "backend", Port: 8080}
	require.Equal(t, "backend:8080", u.Authority())
}

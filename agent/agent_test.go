package agent

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/papernet/papergw/bridge"
	"github.com/papernet/papergw/cache"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware"
	"github.com/papernet/papergw/mock"
)

func testConfig() *config.Config {
	cfg := new(config.Config)
	cfg.ReservedTLD = "paper"
	cfg.GatewayPrefix = "/__gw/"
	cfg.CacheTTL.Duration = 5 * time.Minute

	return cfg
}

func testDB(t *testing.T) *leveldb.DB {
	t.Helper()

	db, err := leveldb.OpenFile(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

type fixedHandler struct {
	status int
	body   string
}

func (h *fixedHandler) Name() string { return "fixed" }

func (h *fixedHandler) ServeGW(_ context.Context, ch *middleware.Chain) {
	_ = ch.Writer.WriteResponse(gateway.Synthesize(h.status, h.body))
}

func testAgent(t *testing.T, db *leveldb.DB, handlers ...middleware.Handler) *Agent {
	t.Helper()

	cfg := testConfig()

	b := bridge.New(time.Second)
	t.Cleanup(b.Stop)

	c := cache.New(64, cfg.CacheTTL.Duration)
	t.Cleanup(c.Stop)

	a := New(Deps{
		Cfg:      cfg,
		Bridge:   b,
		Cache:    c,
		DB:       db,
		Handlers: handlers,
	}, Payload{Digest: "digest-1", Source: "test"})

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)

	return a
}

func Test_AgentLifecycle(t *testing.T) {
	db := testDB(t)

	a := testAgent(t, db)
	assert.Equal(t, StateActive, a.State())
	assert.Equal(t, "digest-1", a.Payload().Digest)

	a.Stop()
	assert.Equal(t, StateStopped, a.State())
}

func Test_AgentClassify(t *testing.T) {
	db := testDB(t)
	a := testAgent(t, db)

	class, domain, path := a.Classify("Blog.Paper", "/post")
	assert.Equal(t, ClassPrivate, class)
	assert.Equal(t, "blog.paper", domain)
	assert.Equal(t, "/post", path)

	class, _, _ = a.Classify("example.com", "/")
	assert.Equal(t, ClassPassThrough, class)

	// gateway-prefix unwrap recovers the original target
	class, domain, path = a.Classify("localhost", "/__gw/shop.paper/cart")
	assert.Equal(t, ClassGatewayInternal, class)
	assert.Equal(t, "shop.paper", domain)
	assert.Equal(t, "/cart", path)

	class, domain, path = a.Classify("localhost", "/__gw/shop.paper")
	assert.Equal(t, ClassGatewayInternal, class)
	assert.Equal(t, "shop.paper", domain)
	assert.Equal(t, "/", path)

	// prefix wrapping a non-namespace target stays pass-through
	class, _, _ = a.Classify("localhost", "/__gw/example.com/x")
	assert.Equal(t, ClassPassThrough, class)
}

func Test_AgentRegisteredMembership(t *testing.T) {
	db := testDB(t)
	a := testAgent(t, db)

	class, _, _ := a.Classify("magazine.press", "/")
	assert.Equal(t, ClassPassThrough, class)

	a.Deliver(gateway.Message{Type: gateway.MsgDomainRegistered, Data: &gateway.MessageData{Domain: "magazine.press"}})

	assert.Eventually(t, func() bool {
		c, _, _ := a.Classify("magazine.press", "/")
		return c == ClassPrivate
	}, time.Second, 10*time.Millisecond)

	// www. variant registered implicitly
	class, _, _ = a.Classify("www.magazine.press", "/")
	assert.Equal(t, ClassPrivate, class)

	a.Deliver(gateway.Message{Type: gateway.MsgTLDRegistered, Data: &gateway.MessageData{TLD: "zine"}})

	assert.Eventually(t, func() bool {
		c, _, _ := a.Classify("anything.zine", "/")
		return c == ClassPrivate
	}, time.Second, 10*time.Millisecond)
}

func Test_MembershipPersistence(t *testing.T) {
	db := testDB(t)

	m, err := OpenMembership(db)
	require.NoError(t, err)
	require.NoError(t, m.RegisterDomain("news.paper"))
	require.NoError(t, m.RegisterTLD("zine"))

	// a fresh open sees the registrations
	m2, err := OpenMembership(db)
	require.NoError(t, err)

	assert.True(t, m2.HasDomain("news.paper"))
	assert.True(t, m2.HasDomain("www.news.paper"))
	assert.True(t, m2.MatchesTLD("a.zine"))
	assert.False(t, m2.HasDomain("other.paper"))

	domains, tlds := m2.Snapshot()
	assert.Equal(t, []string{"news.paper", "www.news.paper"}, domains)
	assert.Equal(t, []string{"zine"}, tlds)
}

func Test_AgentHandleRequest(t *testing.T) {
	db := testDB(t)
	a := testAgent(t, db, &fixedHandler{status: http.StatusOK, body: "private content"})

	w := mock.NewWriter("10.0.0.1:0")
	handled := a.HandleRequest(context.Background(), w, &gateway.Request{Domain: "blog.paper", Path: "/", Method: "GET"})

	assert.True(t, handled)
	require.True(t, w.Written())
	assert.Equal(t, []byte("private content"), w.Response().Body)

	w = mock.NewWriter("10.0.0.1:0")
	handled = a.HandleRequest(context.Background(), w, &gateway.Request{Domain: "example.com", Path: "/", Method: "GET"})

	assert.False(t, handled)
	assert.False(t, w.Written())
}

func Test_AgentClearCache(t *testing.T) {
	db := testDB(t)
	a := testAgent(t, db)

	a.cache.Add(cache.Key("blog.paper", "/"), &cache.Entry{Domain: "blog.paper", Path: "/", StoredAt: time.Now()})
	require.Equal(t, 1, a.cache.Len())

	a.Deliver(gateway.Message{Type: gateway.MsgClearCache})

	assert.Eventually(t, func() bool {
		return a.cache.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func Test_AgentCacheExportImport(t *testing.T) {
	db := testDB(t)
	a := testAgent(t, db)

	a.cache.Add(cache.Key("blog.paper", "/x"), &cache.Entry{
		Domain:   "blog.paper",
		Path:     "/x",
		Status:   200,
		Body:     []byte("warm"),
		StoredAt: time.Now(),
	})

	n, err := a.ExportCache()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a.cache.Purge()

	n, err = a.ImportCache()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, ok := a.cache.Get(cache.Key("blog.paper", "/x"))
	require.True(t, ok)
	assert.Equal(t, []byte("warm"), e.Body)
}

func Test_AgentPurgePriorVersions(t *testing.T) {
	db := testDB(t)

	a := testAgent(t, db)
	a.cache.Add(cache.Key("blog.paper", "/"), &cache.Entry{Domain: "blog.paper", Path: "/", Status: 200, StoredAt: time.Now()})

	_, err := a.ExportCache()
	require.NoError(t, err)

	// a new payload version drops the prior export on activation
	a2 := New(Deps{
		Cfg:      a.cfg,
		Bridge:   a.bridge,
		Cache:    a.cache,
		DB:       db,
		Handlers: nil,
	}, Payload{Digest: "digest-2", Source: "test"})

	require.NoError(t, a2.Start(context.Background()))
	defer a2.Stop()

	n, err := a2.ImportCache()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func Test_SlotActivate(t *testing.T) {
	db := testDB(t)
	cfg := testConfig()

	b := bridge.New(time.Second)
	defer b.Stop()

	c := cache.New(16, time.Minute)
	defer c.Stop()

	slot := new(Slot)
	assert.False(t, slot.IsActive())
	assert.Nil(t, slot.Active())

	a := New(Deps{Cfg: cfg, Bridge: b, Cache: c, DB: db}, Payload{Digest: "d"})

	err := slot.Activate(context.Background(), a, time.Second)
	require.NoError(t, err)
	assert.True(t, slot.IsActive())
	assert.Equal(t, a, slot.Active())

	slot.Deactivate()
	assert.False(t, slot.IsActive())
	assert.Equal(t, StateStopped, a.State())
}

func Test_SlotFirstWins(t *testing.T) {
	db := testDB(t)
	cfg := testConfig()

	b := bridge.New(time.Second)
	defer b.Stop()

	c := cache.New(16, time.Minute)
	defer c.Stop()

	slot := new(Slot)

	winner := New(Deps{Cfg: cfg, Bridge: b, Cache: c, DB: db}, Payload{Digest: "d", Source: "fast"})
	require.NoError(t, slot.Activate(context.Background(), winner, time.Second))

	// a straggler finishing after the winner must not displace it
	loser := New(Deps{Cfg: cfg, Bridge: b, Cache: c, DB: db}, Payload{Digest: "d", Source: "slow"})
	require.NoError(t, slot.Activate(context.Background(), loser, time.Second))

	assert.Equal(t, winner, slot.Active())
	assert.Equal(t, "fast", slot.Active().Payload().Source)
	assert.Equal(t, StateStopped, loser.State())

	slot.Deactivate()

	// explicit deactivation reopens the slot
	next := New(Deps{Cfg: cfg, Bridge: b, Cache: c, DB: db}, Payload{Digest: "d", Source: "next"})
	require.NoError(t, slot.Activate(context.Background(), next, time.Second))
	assert.Equal(t, "next", slot.Active().Payload().Source)
	slot.Deactivate()
}

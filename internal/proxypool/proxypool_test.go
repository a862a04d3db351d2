package proxypool

import "testing"

type fakeLoader struct {
	proxies []Proxy
}

func (f *fakeLoader) ListProxies() ([]Proxy, error) { return f.proxies, nil }

func newTestPool(t *testing.T, proxies ...Proxy) *Pool {
	t.Helper()
	p := New(Config{MaxConsecutive403s: 3, Cooldown: 0}, &fakeLoader{proxies: proxies})
	if err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNext_RoundRobinsAndSkipsExcluded(t *testing.T) {
	p := newTestPool(t,
		Proxy{ID: 1, Host: "a", Type: TypeDatacenter, Enabled: true},
		Proxy{ID: 2, Host: "b", Type: TypeDatacenter, Enabled: true},
	)

	first, ok := p.Next(nil, TypeDatacenter)
	if !ok {
		t.Fatal("expected a proxy")
	}
	excluded := map[int64]bool{first.ID: true}
	second, ok := p.Next(excluded, TypeDatacenter)
	if !ok {
		t.Fatal("expected a second proxy")
	}
	if second.ID == first.ID {
		t.Fatalf("excluded proxy was returned again: %d", second.ID)
	}
}

func TestNext_ReturnsNoneWhenAllExcluded(t *testing.T) {
	p := newTestPool(t, Proxy{ID: 1, Host: "a", Type: TypeDatacenter, Enabled: true})
	_, ok := p.Next(map[int64]bool{1: true}, TypeDatacenter)
	if ok {
		t.Fatal("expected no proxy when the only one is excluded")
	}
}

func TestProxyStrikeDeterminism(t *testing.T) {
	p := newTestPool(t, Proxy{ID: 1, Host: "a", Type: TypeDatacenter, Enabled: true})

	for i := 0; i < 3; i++ {
		p.ReportFailure(1, KindForbidden)
	}
	if _, ok := p.Next(nil, TypeDatacenter); ok {
		t.Fatal("expected proxy to be excluded after reaching max consecutive 403s")
	}

	p.ReportSuccess(1)
	if _, ok := p.Next(nil, TypeDatacenter); !ok {
		t.Fatal("expected a single success to clear the strike and cooldown")
	}
}

func TestReportFailure_NonForbiddenDoesNotStrike(t *testing.T) {
	p := newTestPool(t, Proxy{ID: 1, Host: "a", Type: TypeDatacenter, Enabled: true})
	for i := 0; i < 5; i++ {
		p.ReportFailure(1, KindTimeout)
	}
	if _, ok := p.Next(nil, TypeDatacenter); !ok {
		t.Fatal("non-403 failures must not strike the proxy")
	}
}

func TestRefresh_PreservesInMemoryState(t *testing.T) {
	loader := &fakeLoader{proxies: []Proxy{{ID: 1, Host: "a", Type: TypeDatacenter, Enabled: true}}}
	p := New(Config{MaxConsecutive403s: 1, Cooldown: 0}, loader)
	if err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
	p.ReportFailure(1, KindForbidden)
	if _, ok := p.Next(nil, TypeDatacenter); ok {
		t.Fatal("expected proxy excluded after strike")
	}

	if err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Next(nil, TypeDatacenter); ok {
		t.Fatal("expected strike state preserved across refresh")
	}
}

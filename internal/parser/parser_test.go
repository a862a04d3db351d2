package parser

import "testing"

type fakeExtractor struct {
	products []Product
	next     string
	err      error
}

func (f fakeExtractor) Extract(pageURL, body string) ([]Product, string, error) {
	return f.products, f.next, f.err
}

func TestRegistry_GetUnregisteredStore(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nobody"); err == nil {
		t.Fatal("expected error for unregistered store")
	}
}

func TestRegistry_ExtractDropsEmptySKUOrURL(t *testing.T) {
	r := NewRegistry()
	r.Register("walmart", fakeExtractor{products: []Product{
		{SKU: "A1", URL: "https://x/a1", Title: "Good"},
		{SKU: "", URL: "https://x/a2", Title: "No SKU"},
		{SKU: "A3", URL: "", Title: "No URL"},
	}})

	products, _, err := r.Extract("walmart", "https://x/cat", "<html/>")
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 || products[0].SKU != "A1" {
		t.Fatalf("products = %+v, want only A1", products)
	}
}

func TestRegistry_ExtractPropagatesNextPageURL(t *testing.T) {
	r := NewRegistry()
	r.Register("target", fakeExtractor{
		products: []Product{{SKU: "S1", URL: "https://x/s1"}},
		next:     "https://x/cat?page=2",
	})
	_, next, err := r.Extract("target", "https://x/cat", "<html/>")
	if err != nil {
		t.Fatal(err)
	}
	if next != "https://x/cat?page=2" {
		t.Fatalf("next = %q", next)
	}
}

func TestJSONLDProducts_BareObject(t *testing.T) {
	body := `<html><script type="application/ld+json">{"@type":"Product","sku":"P1","name":"Widget"}</script></html>`
	products, err := JSONLDProducts(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 || products[0]["sku"] != "P1" {
		t.Fatalf("products = %+v", products)
	}
}

func TestJSONLDProducts_Graph(t *testing.T) {
	body := `<html><script type="application/ld+json">
		{"@graph":[{"@type":"Product","sku":"P1"},{"@type":"BreadcrumbList"},{"@type":"Product","sku":"P2"}]}
	</script></html>`
	products, err := JSONLDProducts(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 2 {
		t.Fatalf("products = %+v, want 2", products)
	}
}

func TestJSONLDProducts_MalformedBlockSkipped(t *testing.T) {
	body := `<html><script type="application/ld+json">{not json}</script></html>`
	products, err := JSONLDProducts(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 0 {
		t.Fatalf("products = %+v, want none", products)
	}
}

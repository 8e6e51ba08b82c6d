package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/session"
	"github.com/charlesh97/bomhelper/internal/sse"
	"github.com/charlesh97/bomhelper/internal/testutil"
	"github.com/charlesh97/bomhelper/internal/vendor"
)

// fakeSearcher returns canned results without any network access.
type fakeSearcher struct {
	results []vendor.Part
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, mpn, keyword string, inStockOnly, activeOnly bool) ([]vendor.Part, error) {
	return f.results, f.err
}

type fallbackKeywords struct{}

func (fallbackKeywords) Generate(ctx context.Context, part *bom.ConsolidatedPart) string {
	return "test keyword"
}

func (fallbackKeywords) GenerateBatch(ctx context.Context, parts []*bom.ConsolidatedPart) map[int]string {
	out := make(map[int]string, len(parts))
	for _, p := range parts {
		out[p.Index] = "test keyword"
	}
	return out
}

func setupTest(t *testing.T, searcher session.Searcher) (*gin.Engine, *session.Coordinator) {
	t.Helper()
	logger := zap.NewNop()
	hub := sse.NewHub(logger)
	coord := session.NewCoordinator(searcher, fallbackKeywords{}, nil, hub, logger)
	t.Cleanup(coord.Close)

	handlers := NewHandlers(coord, bom.NewParser(logger), nil, nil, hub, logger)

	r := testutil.SetupRouter()
	v1 := r.Group("/api/v1")
	v1.POST("/bom/upload", handlers.BOM.Upload)
	v1.GET("/parts", handlers.BOM.List)
	v1.GET("/parts/:key", handlers.BOM.Get)
	v1.PATCH("/parts/:key/fields", handlers.BOM.UpdateField)
	v1.POST("/parts/:key/search", handlers.Search.Search)
	v1.GET("/parts/:key/results", handlers.Search.Results)
	v1.POST("/parts/:key/show-more", handlers.Search.ShowMore)
	v1.POST("/parts/:key/confirm", handlers.Search.Confirm)
	v1.POST("/parts/:key/toggle-checked", handlers.Search.ToggleChecked)
	v1.POST("/search/batch", handlers.Search.SearchBatch)
	v1.PUT("/session/sort", handlers.Search.SetSort)
	v1.PUT("/session/filters", handlers.Search.SetFilters)
	v1.GET("/session/snapshot", handlers.Snapshot.Download)
	v1.POST("/session/snapshot", handlers.Snapshot.Restore)
	v1.GET("/export/preview", handlers.Export.Preview)
	v1.GET("/export/csv", handlers.Export.CSV)
	return r, coord
}

const testBOM = `RefDes,Value,Footprint,QTY,Manufacturer Part Number
R1,10k,0603,1,RC0603FR-0710KL
R2,10k,0603,1,RC0603FR-0710KL
C1,100nF,0402,1,
`

func uploadTestBOM(t *testing.T, r *gin.Engine) {
	t.Helper()
	w := testutil.DoUpload(r, "/api/v1/bom/upload", "file", "test_bom.csv", []byte(testBOM))
	if w.Code != http.StatusCreated {
		t.Fatalf("Upload expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

// waitForPhase polls the results endpoint until the part reaches the phase.
func waitForPhase(t *testing.T, r *gin.Engine, key, phase string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w := testutil.DoRequest(r, "GET", "/api/v1/parts/"+key+"/results", nil, "")
		if w.Code == http.StatusOK {
			resp := testutil.ParseResponse(w)
			data := resp["data"].(map[string]interface{})
			if data["phase"] == phase {
				return data
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Part %s never reached phase %s", key, phase)
	return nil
}

func TestUploadAndListParts(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})
	uploadTestBOM(t, r)

	w := testutil.DoRequest(r, "GET", "/api/v1/parts", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("Expected 2 consolidated parts, got %d", len(items))
	}

	first := items[0].(map[string]interface{})
	if first["part_key"] != "part_0" || first["refdes"] != "R1, R2" {
		t.Errorf("First part wrong: %v", first)
	}
	if first["quantity"].(float64) != 2 {
		t.Errorf("Expected quantity 2, got %v", first["quantity"])
	}
	if first["phase"] != "unsearched" {
		t.Errorf("Fresh part should be unsearched, got %v", first["phase"])
	}

	options := data["options"].(map[string]interface{})
	if options["in_stock_only"] != true || options["sort_preference"] != "stock" {
		t.Errorf("Default options wrong: %v", options)
	}
}

func TestUploadRejectsBadFiles(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})

	w := testutil.DoUpload(r, "/api/v1/bom/upload", "file", "bom.pdf", []byte("%PDF"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported extension, got %d", w.Code)
	}

	w = testutil.DoUpload(r, "/api/v1/bom/upload", "file", "empty.csv", []byte("RefDes,Value\n"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty BOM, got %d", w.Code)
	}

	w = testutil.DoRequest(r, "POST", "/api/v1/bom/upload", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing file, got %d", w.Code)
	}
}

func TestListWithoutSession(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})
	w := testutil.DoRequest(r, "GET", "/api/v1/parts", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a session, got %d", w.Code)
	}
}

func TestSearchConfirmExportFlow(t *testing.T) {
	searcher := &fakeSearcher{results: []vendor.Part{
		{MPN: "RC0603FR-0710KL", Manufacturer: "Yageo", VendorPartNumber: "603-RC",
			Stock: 15000, Lifecycle: "Active", Package: "0603",
			PriceBreaks: []vendor.PriceBreak{{Quantity: 1, Price: "0.10", Currency: "USD"}}},
		{MPN: "ALT-1", Manufacturer: "Other", Stock: 20, Lifecycle: "Active", Package: "0603"},
	}}
	r, _ := setupTest(t, searcher)
	uploadTestBOM(t, r)

	w := testutil.DoRequest(r, "POST", "/api/v1/parts/part_0/search", map[string]interface{}{}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Search expected 200, got %d: %s", w.Code, w.Body.String())
	}

	data := waitForPhase(t, r, "part_0", "reviewing")
	results := data["results"].([]interface{})
	if len(results) != 2 {
		t.Fatalf("Expected 2 visible results, got %d", len(results))
	}
	top := results[0].(map[string]interface{})
	if top["mpn"] != "RC0603FR-0710KL" {
		t.Errorf("Expected deep-stock part ranked first, got %v", top["mpn"])
	}

	// Confirm the top candidate.
	w = testutil.DoRequest(r, "POST", "/api/v1/parts/part_0/confirm",
		map[string]interface{}{"index": 0}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Confirm expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Export preview now carries exactly the confirmed part.
	w = testutil.DoRequest(r, "GET", "/api/v1/export/preview", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Preview expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	preview := resp["data"].(map[string]interface{})
	if preview["count"].(float64) != 1 {
		t.Errorf("Expected 1 export record, got %v", preview["count"])
	}
	items := preview["items"].([]interface{})
	rec := items[0].(map[string]interface{})
	if rec["mpn"] != "RC0603FR-0710KL" || rec["refdes"] != "R1, R2" {
		t.Errorf("Export record wrong: %v", rec)
	}

	// CSV download.
	w = testutil.DoRequest(r, "GET", "/api/v1/export/csv", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("CSV export expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Unexpected content type %q", ct)
	}
}

func TestConfirmNA(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})
	uploadTestBOM(t, r)

	w := testutil.DoRequest(r, "POST", "/api/v1/parts/part_1/confirm",
		map[string]interface{}{"na": true}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Confirm NA expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/parts/part_1", nil, "")
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	confirmed := data["confirmed"].(map[string]interface{})
	if confirmed["mpn"] != "NA" {
		t.Errorf("Expected NA sentinel, got %v", confirmed["mpn"])
	}
}

func TestConfirmValidation(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})
	uploadTestBOM(t, r)

	w := testutil.DoRequest(r, "POST", "/api/v1/parts/part_0/confirm",
		map[string]interface{}{}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without index or na, got %d", w.Code)
	}

	w = testutil.DoRequest(r, "POST", "/api/v1/parts/part_0/confirm",
		map[string]interface{}{"index": 5}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range index, got %d", w.Code)
	}
}

func TestShowMoreEndpoint(t *testing.T) {
	searcher := &fakeSearcher{}
	for i := 0; i < 8; i++ {
		searcher.results = append(searcher.results, vendor.Part{
			MPN: "P", Stock: 100 * (i + 1), Lifecycle: "Active"})
	}
	r, _ := setupTest(t, searcher)
	uploadTestBOM(t, r)

	testutil.DoRequest(r, "POST", "/api/v1/parts/part_0/search", nil, "")
	data := waitForPhase(t, r, "part_0", "reviewing")
	if got := len(data["results"].([]interface{})); got != 3 {
		t.Fatalf("Expected initial window of 3, got %d", got)
	}

	w := testutil.DoRequest(r, "POST", "/api/v1/parts/part_0/show-more", nil, "")
	resp := testutil.ParseResponse(w)
	if visible := resp["data"].(map[string]interface{})["visible"].(float64); visible != 6 {
		t.Errorf("Expected window of 6, got %v", visible)
	}
}

func TestSortAndFilterEndpoints(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})
	uploadTestBOM(t, r)

	w := testutil.DoRequest(r, "PUT", "/api/v1/session/sort",
		map[string]interface{}{"mode": "price"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Sort expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(r, "PUT", "/api/v1/session/sort",
		map[string]interface{}{"mode": "alphabetical"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown sort mode, got %d", w.Code)
	}

	w = testutil.DoRequest(r, "PUT", "/api/v1/session/filters",
		map[string]interface{}{"in_stock_only": false, "active_only": true}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Filters expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/parts", nil, "")
	resp := testutil.ParseResponse(w)
	options := resp["data"].(map[string]interface{})["options"].(map[string]interface{})
	if options["in_stock_only"] != false || options["sort_preference"] != "price" {
		t.Errorf("Options not updated: %v", options)
	}
}

func TestUpdateFieldEndpoint(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})
	uploadTestBOM(t, r)

	w := testutil.DoRequest(r, "PATCH", "/api/v1/parts/part_0/fields",
		map[string]interface{}{"field": "value", "value": "22k"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("UpdateField expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/parts/part_0", nil, "")
	resp := testutil.ParseResponse(w)
	fields := resp["data"].(map[string]interface{})["fields"].(map[string]interface{})
	if fields["value"] != "22k" {
		t.Errorf("Field edit not applied: %v", fields["value"])
	}

	w = testutil.DoRequest(r, "PATCH", "/api/v1/parts/part_0/fields",
		map[string]interface{}{"field": "quantity", "value": "many"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad quantity, got %d", w.Code)
	}
}

func TestSnapshotDownloadRestore(t *testing.T) {
	r, coord := setupTest(t, &fakeSearcher{})
	uploadTestBOM(t, r)
	testutil.DoRequest(r, "POST", "/api/v1/parts/part_0/confirm",
		map[string]interface{}{"na": true}, "")

	w := testutil.DoRequest(r, "GET", "/api/v1/session/snapshot", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Snapshot download expected 200, got %d: %s", w.Code, w.Body.String())
	}
	document := w.Body.Bytes()

	// Wipe the session, then restore from the downloaded document.
	coord.LoadSession([]*bom.ConsolidatedPart{
		{Index: 0, Key: "value:other", Fields: map[string]string{}},
	}, nil, nil)

	req, _ := http.NewRequest("POST", "/api/v1/session/snapshot", bytes.NewReader(document))
	req.Header.Set("Content-Type", "application/json")
	w2 := doRaw(r, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("Snapshot restore expected 200, got %d: %s", w2.Code, w2.Body.String())
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/parts", nil, "")
	resp := testutil.ParseResponse(w)
	items := resp["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("Expected restored session with 2 parts, got %d", len(items))
	}
	first := items[0].(map[string]interface{})
	if first["phase"] != "confirmed" || first["checked"] != true {
		t.Errorf("Selection state not restored: %v", first)
	}
}

func TestSnapshotRestoreInvalidKeepsSession(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{})
	uploadTestBOM(t, r)

	req, _ := http.NewRequest("POST", "/api/v1/session/snapshot",
		bytes.NewReader([]byte(`{"version": "", "consolidated_parts": []}`)))
	req.Header.Set("Content-Type", "application/json")
	w := doRaw(r, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for invalid snapshot, got %d", w.Code)
	}

	// Session is untouched.
	w2 := testutil.DoRequest(r, "GET", "/api/v1/parts", nil, "")
	resp := testutil.ParseResponse(w2)
	items := resp["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 2 {
		t.Errorf("Session lost after failed restore, got %d parts", len(items))
	}
}

func TestBatchSearchEndpoint(t *testing.T) {
	r, _ := setupTest(t, &fakeSearcher{results: []vendor.Part{{MPN: "OK", Stock: 10, Lifecycle: "Active"}}})
	uploadTestBOM(t, r)

	w := testutil.DoRequest(r, "POST", "/api/v1/search/batch",
		map[string]interface{}{"part_keys": []string{"part_0", "part_1"}}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Batch search expected 200, got %d: %s", w.Code, w.Body.String())
	}
	waitForPhase(t, r, "part_0", "reviewing")
	waitForPhase(t, r, "part_1", "reviewing")

	w = testutil.DoRequest(r, "POST", "/api/v1/search/batch",
		map[string]interface{}{"part_keys": []string{"part_77"}}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown batch key, got %d", w.Code)
	}
}

// slowSearcher honors its context the way a real provider call does: a
// canceled context aborts the search.
type slowSearcher struct {
	delay   time.Duration
	results []vendor.Part
}

func (s *slowSearcher) Search(ctx context.Context, mpn, keyword string, inStockOnly, activeOnly bool) ([]vendor.Part, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.results, nil
}

func TestSearchOutlivesDispatchRequest(t *testing.T) {
	searcher := &slowSearcher{
		delay:   100 * time.Millisecond,
		results: []vendor.Part{{MPN: "OK", Stock: 10, Lifecycle: "Active"}},
	}
	r, _ := setupTest(t, searcher)
	uploadTestBOM(t, r)

	// Dispatch over a real connection: net/http cancels the request context
	// the moment the handler responds, long before the searcher finishes.
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/parts/part_0/search", "application/json", nil)
	if err != nil {
		t.Fatalf("Search request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Search expected 200, got %d", resp.StatusCode)
	}

	data := waitForPhase(t, r, "part_0", "reviewing")
	if got := len(data["results"].([]interface{})); got != 1 {
		t.Fatalf("Search canceled with the request: expected 1 result, got %d", got)
	}

	// The batch worker must survive the same way.
	resp, err = http.Post(srv.URL+"/api/v1/search/batch", "application/json",
		bytes.NewBufferString(`{"part_keys": ["part_1"]}`))
	if err != nil {
		t.Fatalf("Batch request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Batch search expected 200, got %d", resp.StatusCode)
	}

	data = waitForPhase(t, r, "part_1", "reviewing")
	if got := len(data["results"].([]interface{})); got != 1 {
		t.Errorf("Batch search canceled with the request: expected 1 result, got %d", got)
	}
}

func TestJWTAuthProtectsRoutes(t *testing.T) {
	r := testutil.SetupRouter()
	api := testutil.AuthGroup(r, "/api/v1")
	api.GET("/parts", func(c *gin.Context) { Success(c, gin.H{}) })

	w := testutil.DoRequest(r, "GET", "/api/v1/parts", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	token := testutil.GenerateTestToken("user-1", "Test User")
	w = testutil.DoRequest(r, "GET", "/api/v1/parts", nil, token)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}

	// SSE-style query param token.
	req, _ := http.NewRequest("GET", "/api/v1/parts?token="+token, nil)
	w2 := doRaw(r, req)
	if w2.Code != http.StatusOK {
		t.Errorf("Expected 200 with query token, got %d", w2.Code)
	}
}

func doRaw(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

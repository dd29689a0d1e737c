package datafetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finance_backend/models"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func sinaFullRecord(name string) string {
	fields := []string{
		name, "1650.000", "1645.000", "1688.456", "1690.000", "1648.000", "1688.450", "1688.460",
		"3215728", "5412345678.000",
		"100", "1688.450", "200", "1688.440", "300", "1688.430", "400", "1688.420", "500", "1688.410",
		"110", "1688.460", "210", "1688.470", "310", "1688.480", "410", "1688.490", "510", "1688.500",
		"2024-03-01", "15:00:00", "00",
	}
	return strings.Join(fields, ",")
}

func gbk(t *testing.T, s string) []byte {
	t.Helper()
	out, err := simplifiedchinese.GBK.NewEncoder().String(s)
	if err != nil {
		t.Fatal(err)
	}
	return []byte(out)
}

func TestParseSinaQuoteRecord(t *testing.T) {
	q, err := parseSinaQuoteRecord("sh600519", strings.Split(sinaFullRecord("Moutai"), ","))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.Price != 1688.46 || q.PrevClose != 1645 || q.Open != 1650 {
		t.Errorf("unexpected prices: %+v", q)
	}
	if q.Change != 43.46 || q.ChangePercent != 2.64 {
		t.Errorf("unexpected change %v / %v", q.Change, q.ChangePercent)
	}
	if len(q.Bids) != 5 || len(q.Asks) != 5 {
		t.Fatalf("expected 5-level ladder, got %d bids %d asks", len(q.Bids), len(q.Asks))
	}
	if q.Bids[0].Price != 1688.45 || q.Bids[0].Volume != 100 {
		t.Errorf("unexpected best bid %+v", q.Bids[0])
	}
	if q.Asks[4].Price != 1688.5 || q.Asks[4].Volume != 510 {
		t.Errorf("unexpected fifth ask %+v", q.Asks[4])
	}
	if q.Date != "2024-03-01" || q.Time != "15:00:00" {
		t.Errorf("unexpected date/time %s %s", q.Date, q.Time)
	}
}

func TestParseSinaShortRecordHasNoLadder(t *testing.T) {
	fields := strings.Split("TENCENT,380.0,378.0,382.4,385.0,376.2,0,0,12345600,4700000000", ",")
	q, err := parseSinaQuoteRecord("hk00700", fields)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.HasDepth() {
		t.Error("short record must not carry a ladder")
	}
	if q.Price != 382.4 {
		t.Errorf("expected price 382.4, got %v", q.Price)
	}
}

func TestParseSinaRecordRejectsGarbage(t *testing.T) {
	if _, err := parseSinaQuoteRecord("sh600519", []string{"a", "b"}); err == nil {
		t.Error("expected error for short record")
	}
	fields := strings.Split(sinaFullRecord("X"), ",")
	fields[3] = "n/a"
	if _, err := parseSinaQuoteRecord("sh600519", fields); err == nil {
		t.Error("expected error for non-numeric price")
	}
}

func TestParseSinaZeroPriceIsEmptyRecord(t *testing.T) {
	fields := strings.Split(sinaFullRecord("Halted"), ",")
	fields[1], fields[3], fields[4], fields[5] = "0.000", "0.000", "0.000", "0.000"
	q, err := parseSinaQuoteRecord("sh600001", fields)
	if !errors.Is(err, errEmptyRecord) {
		t.Fatalf("expected empty record for zero price, got quote %+v err %v", q, err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gbk(t, `var hq_str_sh600001="`+strings.Join(fields, ",")+`";`+"\n"+
			`var hq_str_sh600519="`+sinaFullRecord("Moutai")+`";`+"\n"))
	}))
	defer srv.Close()

	src := NewSinaSource(SinaOptions{QuoteURL: srv.URL})
	quotes, err := src.GetRealtimeQuotes(context.Background(), []string{"sh600001", "sh600519"}, FetchOptions{})
	if err != nil {
		t.Fatalf("GetRealtimeQuotes failed: %v", err)
	}
	if _, ok := quotes["sh600001"]; ok {
		t.Error("symbol without a trade price must be left out")
	}
	if quotes["sh600519"].Price != 1688.46 {
		t.Errorf("unexpected quote %+v", quotes["sh600519"])
	}
}

func TestParseSinaIndexRecord(t *testing.T) {
	q, err := parseSinaIndexRecord("sh000001", strings.Split("SSE,3050.12,20.12,0.66,3000000,4500000", ","))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.PrevClose != 3030 || q.Change != 20.12 {
		t.Errorf("unexpected index quote %+v", q)
	}
	if q.ChangePercent != 0.66 {
		t.Errorf("expected changePercent 0.66, got %v", q.ChangePercent)
	}
}

func TestSinaGetRealtimeQuotesUsesCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Referer") == "" || !strings.Contains(r.Header.Get("User-Agent"), "Mozilla") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/list=sh600519" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write(gbk(t, `var hq_str_sh600519="`+sinaFullRecord("贵州茅台")+`";`+"\n"))
	}))
	defer srv.Close()

	src := NewSinaSource(SinaOptions{QuoteURL: srv.URL, KLineURL: srv.URL})
	ctx := context.Background()

	quotes, err := src.GetRealtimeQuotes(ctx, []string{"sh600519"}, FetchOptions{})
	if err != nil {
		t.Fatalf("GetRealtimeQuotes failed: %v", err)
	}
	if quotes["sh600519"].Name != "贵州茅台" {
		t.Errorf("GBK name not decoded: %q", quotes["sh600519"].Name)
	}

	if _, err := src.GetRealtimeQuotes(ctx, []string{"sh600519"}, FetchOptions{}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected cached second call, upstream hit %d times", n)
	}

	if _, err := src.GetRealtimeQuotes(ctx, []string{"sh600519"}, FetchOptions{ForceRefresh: true}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("expected forced refresh to hit upstream, hits=%d", n)
	}
}

func TestSinaEmptyRecordIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`var hq_str_sh999999="";`))
	}))
	defer srv.Close()

	src := NewSinaSource(SinaOptions{QuoteURL: srv.URL})
	_, err := src.GetRealtimeQuotes(context.Background(), []string{"sh999999"}, FetchOptions{})

	var parseErr *UpstreamParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected UpstreamParseError, got %v", err)
	}
	if parseErr.Source != SourceSina || parseErr.Symbol != "sh999999" {
		t.Errorf("error does not identify source and symbol: %+v", parseErr)
	}

	depth, err := src.GetOrderBook(context.Background(), "sh999999", FetchOptions{})
	if err != nil {
		t.Fatalf("empty record must give empty depth, got %v", err)
	}
	if !depth.IsEmpty() {
		t.Error("expected empty depth")
	}
}

func TestSinaHTTPFailureIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewSinaSource(SinaOptions{QuoteURL: srv.URL})
	_, err := src.GetRealtimeQuotes(context.Background(), []string{"sh600519"}, FetchOptions{})

	var fetchErr *UpstreamFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected UpstreamFetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", fetchErr.StatusCode)
	}
}

func TestSinaGetKLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("scale"); got != "240" {
			t.Errorf("expected daily scale 240, got %s", got)
		}
		w.Write([]byte(`[
			{"day":"2024-03-04","open":"10.100","high":"10.500","low":"10.000","close":"10.400","volume":"1200"},
			{"day":"2024-03-01","open":"10.000","high":"10.200","low":"9.900","close":"10.100","volume":"1000"}
		]`))
	}))
	defer srv.Close()

	src := NewSinaSource(SinaOptions{KLineURL: srv.URL})
	bars, err := src.GetKLine(context.Background(), "sz000858", models.PeriodDaily, 10, FetchOptions{})
	if err != nil {
		t.Fatalf("GetKLine failed: %v", err)
	}
	if len(bars) != 2 || bars[0].Date != "2024-03-01" || bars[1].Close != 10.4 {
		t.Errorf("unexpected bars %+v", bars)
	}
}

func TestParseSinaKLinesNull(t *testing.T) {
	bars, err := parseSinaKLines([]byte("null"), models.PeriodDaily)
	if err != nil || len(bars) != 0 {
		t.Errorf("expected no bars and no error, got %v %v", bars, err)
	}
}

func TestSinaCancelledCallerDoesNotFailJoinedCaller(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(300 * time.Millisecond)
		w.Write(gbk(t, `var hq_str_sh600519="`+sinaFullRecord("Moutai")+`";`+"\n"))
	}))
	defer srv.Close()

	src := NewSinaSource(SinaOptions{QuoteURL: srv.URL})
	symbols := []string{"sh600519"}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := src.GetRealtimeQuotes(ctxA, symbols, FetchOptions{})
		errA <- err
	}()
	<-started

	var (
		wg     sync.WaitGroup
		quotes map[string]models.Quote
		errB   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		quotes, errB = src.GetRealtimeQuotes(context.Background(), symbols, FetchOptions{ForceRefresh: true})
	}()

	time.Sleep(50 * time.Millisecond)
	cancelA()

	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled caller to get context.Canceled, got %v", err)
	}
	wg.Wait()
	if errB != nil {
		t.Fatalf("joined caller failed: %v", errB)
	}
	if quotes["sh600519"].Price != 1688.46 {
		t.Errorf("unexpected quote %+v", quotes["sh600519"])
	}

	// the shared result is cached even though the first caller went away
	if _, err := src.GetRealtimeQuotes(context.Background(), symbols, FetchOptions{}); err != nil {
		t.Errorf("expected cached quote, got %v", err)
	}
}

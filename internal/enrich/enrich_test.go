package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-sync/internal/model"
)

type pageFunc func(ctx context.Context, url string) ([]byte, error)

func (f pageFunc) Page(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func contractRow(index int, organizer, link string) model.RawRow {
	row := model.NewRawRow(index)
	row.Fields["Organizer"] = &organizer
	if link != "" {
		row.SetLink("Organizer", link)
	}
	return row
}

func TestEnrich_FollowsLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(contractPage))
	}))
	defer srv.Close()

	e := New(NewHTTPPages(time.Second, ""), Options{Concurrency: 2, PhoneRegion: "UA"})
	out := e.Enrich(context.Background(), []model.RawRow{
		contractRow(2, "Acme Labs | 01234567", srv.URL+"/lot/1"),
		contractRow(3, "Beta", ""),
	}, model.KindContracts)

	require.Len(t, out, 2)
	a := out[0]
	assert.Equal(t, model.KindContracts, a.Kind)
	require.NotNil(t, a.RegistrationID)
	assert.Equal(t, "01234567", *a.RegistrationID)
	require.NoError(t, a.EnrichErr)
	require.NotNil(t, a.Contact.ContactName)
	assert.Equal(t, "Olena Petrenko", *a.Contact.ContactName)
	assert.Equal(t, "+380671234567", *a.Contact.Phone)
	assert.Equal(t, "tenders@acme.example", *a.Contact.Email)

	b := out[1]
	assert.Nil(t, b.RegistrationID)
	assert.True(t, b.Contact.IsZero())
	assert.NoError(t, b.EnrichErr)
}

func TestEnrich_NoLinkNoFetch(t *testing.T) {
	var calls atomic.Int64
	pages := pageFunc(func(context.Context, string) ([]byte, error) {
		calls.Add(1)
		return nil, nil
	})
	e := New(pages, Options{})
	out := e.Enrich(context.Background(), []model.RawRow{contractRow(2, "Acme | 1", "")}, model.KindContracts)
	require.Len(t, out, 1)
	assert.Zero(t, calls.Load())
}

func TestEnrich_BatchIsolation(t *testing.T) {
	pages := pageFunc(func(_ context.Context, url string) ([]byte, error) {
		if strings.HasSuffix(url, "/5") {
			return nil, errors.New("network timeout")
		}
		return []byte(contractPage), nil
	})
	e := New(pages, Options{Concurrency: 4})

	rows := make([]model.RawRow, 10)
	for i := range rows {
		rows[i] = contractRow(i+1, fmt.Sprintf("Org %d | %08d", i+1, i+1), fmt.Sprintf("https://portal.example/lot/%d", i+1))
	}
	out := e.Enrich(context.Background(), rows, model.KindContracts)
	require.Len(t, out, 10)

	for i, r := range out {
		assert.Equal(t, i+1, r.Raw.Index, "order preserved")
		require.NotNil(t, r.RegistrationID)
		if i == 4 {
			assert.True(t, r.Contact.IsZero())
			var ee *ExtractionError
			require.ErrorAs(t, r.EnrichErr, &ee)
			assert.Equal(t, 5, ee.Row)
			assert.Contains(t, ee.Error(), "network timeout")
			continue
		}
		assert.NoError(t, r.EnrichErr)
		assert.NotNil(t, r.Contact.ContactName)
	}
}

func TestEnrich_PanicIsRecovered(t *testing.T) {
	pages := pageFunc(func(_ context.Context, url string) ([]byte, error) {
		if strings.HasSuffix(url, "/2") {
			panic("boom")
		}
		return []byte(contractPage), nil
	})
	e := New(pages, Options{Concurrency: 1})
	out := e.Enrich(context.Background(), []model.RawRow{
		contractRow(1, "A | 1", "https://x/1"),
		contractRow(2, "B | 2", "https://x/2"),
		contractRow(3, "C | 3", "https://x/3"),
	}, model.KindContracts)

	require.Len(t, out, 3)
	assert.NoError(t, out[0].EnrichErr)
	var ee *ExtractionError
	require.ErrorAs(t, out[1].EnrichErr, &ee)
	assert.Contains(t, ee.Error(), "panic: boom")
	assert.True(t, out[1].Contact.IsZero())
	assert.NoError(t, out[2].EnrichErr)
}

const contactOnlyPage = `<html><body>
<span class="contact-subject">Olena Petrenko</span>
<a href="tel:+380671234567">067 123 45 67</a>
</body></html>`

const lotPage = `<html><body>
<h2 class="lot-title">Diesel fuel, 5000 l</h2>
<span class="lot-date">01.02.2024</span>
</body></html>`

func contractRowWithLot(index int, organizer, contactLink, lotLink string) model.RawRow {
	row := contractRow(index, organizer, contactLink)
	title := "Lot"
	row.Fields["Lot title"] = &title
	row.SetLink("Lot title", lotLink)
	return row
}

func TestEnrich_FollowsContactAndLotLinks(t *testing.T) {
	var calls atomic.Int64
	pages := pageFunc(func(_ context.Context, url string) ([]byte, error) {
		calls.Add(1)
		if strings.Contains(url, "/lot/") {
			return []byte(lotPage), nil
		}
		return []byte(contactOnlyPage), nil
	})
	e := New(pages, Options{Concurrency: 1})

	out := e.Enrich(context.Background(), []model.RawRow{
		contractRowWithLot(2, "Acme | 01234567", "https://portal.example/org/1", "https://portal.example/lot/1"),
	}, model.KindContracts)

	require.Len(t, out, 1)
	c := out[0].Contact
	require.NoError(t, out[0].EnrichErr)
	assert.Equal(t, int64(2), calls.Load())
	require.NotNil(t, c.ContactName)
	assert.Equal(t, "Olena Petrenko", *c.ContactName)
	assert.Equal(t, "+380671234567", *c.Phone)
	require.NotNil(t, c.LotTitle)
	assert.Equal(t, "Diesel fuel, 5000 l", *c.LotTitle)
	require.NotNil(t, c.LotDate)
	assert.Equal(t, "01.02.2024", *c.LotDate)
}

func TestEnrich_LotPageFailureKeepsContact(t *testing.T) {
	pages := pageFunc(func(_ context.Context, url string) ([]byte, error) {
		if strings.Contains(url, "/lot/") {
			return nil, errors.New("lot page gone")
		}
		return []byte(contractPage), nil
	})
	e := New(pages, Options{Concurrency: 1})

	out := e.Enrich(context.Background(), []model.RawRow{
		contractRowWithLot(2, "Acme | 01234567", "https://portal.example/org/1", "https://portal.example/lot/1"),
	}, model.KindContracts)

	require.Len(t, out, 1)
	c := out[0].Contact
	var ee *ExtractionError
	require.ErrorAs(t, out[0].EnrichErr, &ee)
	assert.Equal(t, "https://portal.example/lot/1", ee.URL)
	require.NotNil(t, c.ContactName)
	assert.Equal(t, "Olena Petrenko", *c.ContactName)
	// contractPage carries lot fields too; they must not leak from the contact page.
	assert.Nil(t, c.LotTitle)
	assert.Nil(t, c.LotDate)
}

func TestEnrich_ContactPageFailureKeepsLot(t *testing.T) {
	pages := pageFunc(func(_ context.Context, url string) ([]byte, error) {
		if strings.Contains(url, "/org/") {
			return nil, errors.New("contact page gone")
		}
		return []byte(lotPage), nil
	})
	e := New(pages, Options{Concurrency: 1})

	out := e.Enrich(context.Background(), []model.RawRow{
		contractRowWithLot(2, "Acme | 01234567", "https://portal.example/org/1", "https://portal.example/lot/1"),
	}, model.KindContracts)

	require.Len(t, out, 1)
	c := out[0].Contact
	assert.Error(t, out[0].EnrichErr)
	assert.Nil(t, c.ContactName)
	assert.Nil(t, c.Phone)
	require.NotNil(t, c.LotTitle)
	assert.Equal(t, "Diesel fuel, 5000 l", *c.LotTitle)
}

func TestEnrich_LotLinkOnly(t *testing.T) {
	pages := pageFunc(func(context.Context, string) ([]byte, error) {
		return []byte(lotPage), nil
	})
	e := New(pages, Options{Concurrency: 1})

	out := e.Enrich(context.Background(), []model.RawRow{
		contractRowWithLot(2, "Acme | 01234567", "", "https://portal.example/lot/1"),
	}, model.KindContracts)

	require.Len(t, out, 1)
	require.NoError(t, out[0].EnrichErr)
	assert.Nil(t, out[0].Contact.ContactName)
	require.NotNil(t, out[0].Contact.LotTitle)
	assert.Equal(t, "Diesel fuel, 5000 l", *out[0].Contact.LotTitle)
}

func TestEnrich_ForecastUsesPlanItemLink(t *testing.T) {
	var got string
	pages := pageFunc(func(_ context.Context, url string) ([]byte, error) {
		got = url
		return []byte(`<h1>Plan item</h1>`), nil
	})
	e := New(pages, Options{Concurrency: 1})

	row := model.NewRawRow(2)
	org := "City Council | 22223333"
	row.Fields["Organizer"] = &org
	row.SetLink("Organizer", "https://portal.example/org")
	row.SetLink("Plan item", "https://portal.example/plan/9")

	out := e.Enrich(context.Background(), []model.RawRow{row}, model.KindForecast)
	require.Len(t, out, 1)
	assert.Equal(t, "https://portal.example/plan/9", got)
	assert.Equal(t, model.KindForecast, out[0].Kind)
	require.NotNil(t, out[0].Contact.LotTitle)
	assert.Equal(t, "Plan item", *out[0].Contact.LotTitle)
}

func TestEnrich_CancelledContext(t *testing.T) {
	pages := pageFunc(func(ctx context.Context, _ string) ([]byte, error) {
		return nil, ctx.Err()
	})
	e := New(pages, Options{RatePerSec: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.Enrich(ctx, []model.RawRow{contractRow(1, "A | 1", "https://x/1")}, model.KindContracts)
	require.Len(t, out, 1)
	assert.Error(t, out[0].EnrichErr)
	require.NotNil(t, out[0].RegistrationID)
}

func TestEnrich_EmptyInput(t *testing.T) {
	e := New(pageFunc(func(context.Context, string) ([]byte, error) { return nil, nil }), Options{})
	assert.Empty(t, e.Enrich(context.Background(), nil, model.KindContracts))
}

func TestNew_Defaults(t *testing.T) {
	e := New(nil, Options{})
	assert.Equal(t, 8, e.concurrency)
	assert.Nil(t, e.limiter)
	s := e.Schema(model.KindForecast)
	assert.Equal(t, "Plan item", s.Link)
	assert.Empty(t, s.lotLink())
	assert.Equal(t, "Lot title", e.Schema(model.KindContracts).lotLink())
	assert.Equal(t, ".contact-subject", s.Selectors.Contact)
}

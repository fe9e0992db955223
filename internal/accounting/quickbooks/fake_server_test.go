package quickbooks

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"invoiceflow/internal/accounting"
)

var (
	docNumberQuery = regexp.MustCompile(`DocNumber = '(.*)'`)
	vendorLike     = regexp.MustCompile(`LIKE '%(.*)%'`)
)

// fakeQBO is an in-memory stand-in for the QuickBooks OAuth and v3 REST endpoints.
type fakeQBO struct {
	t *testing.T

	mu         sync.Mutex
	bills      map[string]qbBill
	vendors    map[string]qbVendor
	billPosts  int
	failBills  []int
	lastAuth   string
	lastQuery  string
	lastVendor qbVendor
	uploads    []string
	revokeCode int
}

func newFakeQBO(t *testing.T) (*fakeQBO, *httptest.Server) {
	f := &fakeQBO{
		t:          t,
		bills:      map[string]qbBill{},
		vendors:    map[string]qbVendor{},
		revokeCode: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/v1/tokens/bearer", f.token)
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(f.revokeCode)
	})
	mux.HandleFunc("GET /v3/company/{realm}/companyinfo/{id}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"CompanyInfo": map[string]any{"CompanyName": "Sandbox Company"}})
	}))
	mux.HandleFunc("GET /v3/company/{realm}/query", f.authed(f.query))
	mux.HandleFunc("POST /v3/company/{realm}/bill", f.authed(f.createBill))
	mux.HandleFunc("GET /v3/company/{realm}/bill/{id}", f.authed(f.getBill))
	mux.HandleFunc("POST /v3/company/{realm}/vendor", f.authed(f.saveVendor))
	mux.HandleFunc("GET /v3/company/{realm}/vendor/{id}", f.authed(f.getVendor))
	mux.HandleFunc("POST /v3/company/{realm}/upload", f.authed(f.upload))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://invoiceflow.test/callback",
		Environment:  Sandbox,
		RateLimit:    100,
		AuthURL:      srv.URL + "/connect/oauth2",
		TokenURL:     srv.URL + "/oauth2/v1/tokens/bearer",
		RevokeURL:    srv.URL + "/revoke",
		BaseURL:      srv.URL + "/v3",
		AppBillURL:   "https://app.test/app/bill?txnId=",
	}
}

func connectedSession() accounting.Session {
	return accounting.Session{
		ConnectionID:      "conn-1",
		CompanyID:         "company-1",
		ProviderCompanyID: "4620816365",
		AccessToken:       "at-1",
		RefreshToken:      "rt-1",
		ExpiresAt:         time.Now().Add(time.Hour),
	}
}

func (f *fakeQBO) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("minorversion") == "" {
			f.t.Errorf("request %s without minorversion", r.URL.Path)
		}
		auth := r.Header.Get("Authorization")
		f.mu.Lock()
		f.lastAuth = auth
		f.mu.Unlock()
		if !strings.HasPrefix(auth, "Bearer at-") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"fault": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (f *fakeQBO) token(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != "client-id" || secret != "client-secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid authorization code"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":               "at-1",
			"refresh_token":              "rt-1",
			"token_type":                 "bearer",
			"expires_in":                 3600,
			"x_refresh_token_expires_in": 8726400,
		})
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != "rt-1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Token invalid"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "at-2",
			"refresh_token": "rt-2",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (f *fakeQBO) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("query")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q

	resp := map[string]any{}
	switch {
	case strings.Contains(q, "FROM Bill"):
		var found []qbBill
		if m := docNumberQuery.FindStringSubmatch(q); m != nil {
			for _, b := range f.bills {
				if b.DocNumber == m[1] {
					found = append(found, b)
				}
			}
		}
		if len(found) > 0 {
			resp["Bill"] = found
		}
	case strings.Contains(q, "FROM Vendor"):
		var found []qbVendor
		m := vendorLike.FindStringSubmatch(q)
		for _, v := range f.vendors {
			if m == nil || strings.Contains(strings.ToLower(v.DisplayName), strings.ToLower(m[1])) {
				found = append(found, v)
			}
		}
		if len(found) > 0 {
			resp["Vendor"] = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"QueryResponse": resp})
}

func (f *fakeQBO) createBill(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.failBills) > 0 {
		status := f.failBills[0]
		f.failBills = f.failBills[1:]
		writeFault(w, status, fmt.Sprint(status), "Service temporarily unavailable")
		return
	}

	var bill qbBill
	if err := json.NewDecoder(r.Body).Decode(&bill); err != nil {
		writeFault(w, http.StatusBadRequest, "2020", "Request has invalid or unsupported property")
		return
	}
	f.billPosts++
	bill.ID = fmt.Sprintf("B%d", f.billPosts)
	bill.Balance = bill.TotalAmt
	f.bills[bill.ID] = bill
	writeJSON(w, http.StatusOK, map[string]any{"Bill": bill})
}

func (f *fakeQBO) getBill(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	bill, ok := f.bills[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		writeFault(w, http.StatusBadRequest, "610", "Object Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Bill": bill})
}

func (f *fakeQBO) saveVendor(w http.ResponseWriter, r *http.Request) {
	var v qbVendor
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeFault(w, http.StatusBadRequest, "2020", "bad vendor")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVendor = v

	if v.ID == "" {
		v.ID = fmt.Sprint(len(f.vendors) + 50)
		v.SyncToken = "0"
	} else {
		current := f.vendors[v.ID]
		if current.SyncToken != v.SyncToken {
			writeFault(w, http.StatusBadRequest, "5010", "Stale Object Error")
			return
		}
		if v.DisplayName == "" {
			v.DisplayName = current.DisplayName
		}
		v.SyncToken = "1"
	}
	f.vendors[v.ID] = v
	writeJSON(w, http.StatusOK, map[string]any{"Vendor": v})
}

func (f *fakeQBO) getVendor(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	v, ok := f.vendors[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		writeFault(w, http.StatusBadRequest, "610", "Object Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Vendor": v})
}

func (f *fakeQBO) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeFault(w, http.StatusBadRequest, "2020", err.Error())
		return
	}
	meta := r.MultipartForm.Value["file_metadata_01"]
	files := r.MultipartForm.File["file_content_01"]
	if len(meta) != 1 || len(files) != 1 {
		writeFault(w, http.StatusBadRequest, "2020", "missing parts")
		return
	}
	fh, err := files[0].Open()
	if err != nil {
		writeFault(w, http.StatusBadRequest, "2020", err.Error())
		return
	}
	defer fh.Close()
	data, _ := io.ReadAll(fh)

	f.mu.Lock()
	f.uploads = append(f.uploads, meta[0], files[0].Filename, string(data))
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"AttachableResponse": []any{}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFault(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"Fault": map[string]any{
			"Error": []map[string]string{{"Message": message, "Detail": message + " detail", "code": code}},
			"type":  "ValidationFault",
		},
	})
}

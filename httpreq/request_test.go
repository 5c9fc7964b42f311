package httpreq

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/svctype"
)

type fakeSink struct{}

func (fakeSink) Succeed(corereq.Response) {}
func (fakeSink) Fail(error)               {}

func TestBuildHTTPRequestUsesBoundBaseURL(t *testing.T) {
	r := NewServiceRequest(svctype.Query, "", time.Second, nil, http.MethodPost, "/query/service",
		[]byte(`{"statement":"select 1"}`), nil, nil, fakeSink{})
	r.SetBaseURL("http://10.0.0.1:8093")

	req, err := r.BuildHTTPRequest()
	if err != nil {
		t.Fatalf("BuildHTTPRequest: %v", err)
	}
	if req.URL.String() != "http://10.0.0.1:8093/query/service" {
		t.Errorf("unexpected URL: %s", req.URL.String())
	}
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != `{"statement":"select 1"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestBuildHTTPRequestSetsOpaqueHeaderByDefault(t *testing.T) {
	r := NewServiceRequest(svctype.Query, "", time.Second, nil, http.MethodGet, "/", nil, nil, nil, fakeSink{})
	r.SetBaseURL("http://10.0.0.1:8093")

	req, err := r.BuildHTTPRequest()
	if err != nil {
		t.Fatalf("BuildHTTPRequest: %v", err)
	}
	if req.Header.Get("X-Opaque") != corereq.OperationIDFromOpaque(r.Opaque()) {
		t.Errorf("expected X-Opaque to be set from the request's own opaque, got %q", req.Header.Get("X-Opaque"))
	}
}

func TestBuildHTTPRequestPreservesExplicitOpaqueHeader(t *testing.T) {
	header := http.Header{}
	header.Set("X-Opaque", "custom")

	r := NewServiceRequest(svctype.Query, "", time.Second, nil, http.MethodGet, "/", nil, header, nil, fakeSink{})
	r.SetBaseURL("http://10.0.0.1:8093")

	req, err := r.BuildHTTPRequest()
	if err != nil {
		t.Fatalf("BuildHTTPRequest: %v", err)
	}
	if req.Header.Get("X-Opaque") != "custom" {
		t.Errorf("expected the explicit X-Opaque header to be preserved, got %q", req.Header.Get("X-Opaque"))
	}
}

func TestBucketReturnsScope(t *testing.T) {
	r := NewServiceRequest(svctype.Views, "default", time.Second, nil, http.MethodGet, "/", nil, nil, nil, fakeSink{})
	if r.Bucket() != "default" {
		t.Errorf("expected Bucket() to return \"default\", got %q", r.Bucket())
	}

	global := NewServiceRequest(svctype.Query, "", time.Second, nil, http.MethodGet, "/", nil, nil, nil, fakeSink{})
	if global.Bucket() != "" {
		t.Errorf("expected an empty bucket for a global-scoped request, got %q", global.Bucket())
	}
}

package proxyhttp

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/k3s-io/edge-proxy/internal/proxyerr"
)

// errorResponder implements k8s.io/apimachinery/pkg/util/proxy.ErrorResponder,
// generalizing pkg/proxy/proxy_server.go's errorResponder (which always wrote
// 500) into spec §4.5 step 8's mapping: DNS/connect failure and upstream TLS
// failure become BadGateway(502); timeout becomes GatewayTimeout(504).
type errorResponder struct{}

func (errorResponder) Error(w http.ResponseWriter, req *http.Request, err error) {
	kind := proxyerr.KindBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		kind = proxyerr.KindGatewayTimeout
	}

	writeError(w, kind, err)
}

// writeError writes the HTTP response for a *proxyerr.Error (or any error
// classified under kind) and logs it at the kind's bounded severity.
func writeError(w http.ResponseWriter, kind proxyerr.Kind, err error) {
	entry := logrus.WithField("kind", kind.String())
	switch kind.LogLevel() {
	case "error":
		entry.Errorf("edge-proxy: %v", err)
	case "warn":
		entry.Warnf("edge-proxy: %v", err)
	case "debug":
		entry.Debugf("edge-proxy: %v", err)
	default:
		entry.Infof("edge-proxy: %v", err)
	}

	status := kind.HTTPStatus()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}

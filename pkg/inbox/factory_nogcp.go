//go:build !gcp

package inbox

import (
	"context"
	"fmt"

	"github.com/docledger/docledger/pkg/config"
)

func newGCSBackendFromSettings(_ context.Context, _ *config.Settings) (Backend, error) {
	return nil, fmt.Errorf("inbox: gcs backend is not enabled in this build (use -tags gcp)")
}

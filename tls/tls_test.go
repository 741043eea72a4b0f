package tls

import (
	"crypto/tls"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	srv := httptest.NewTLSServer(nil)
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	raw := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, raw, 0o600))

	badFile := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(badFile, []byte("not a certificate"), 0o600))

	tests := []struct {
		name      string
		opt       Options
		wantErr   bool
		wantRoots bool
	}{
		{name: "system roots", opt: Options{}},
		{name: "ca file", opt: Options{CAFile: caFile}, wantRoots: true},
		{name: "missing ca file", opt: Options{CAFile: filepath.Join(t.TempDir(), "none.pem")}, wantErr: true},
		{name: "bad ca file", opt: Options{CAFile: badFile}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewConfig(tt.opt)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)
			require.NotNil(t, got.ClientSessionCache)
			require.Equal(t, tt.wantRoots, got.RootCAs != nil)
		})
	}
}

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"fabricbill/backend/internal/config"
	"fabricbill/backend/internal/store/memory"
)

func TestBuildMemoryBackend(t *testing.T) {
	a, err := Build(context.Background(), config.Config{StoreBackend: config.BackendMemory, DefaultRegion: "IN"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.NotNil(t, a.Service)
	require.IsType(t, &memory.Store{}, a.Repo)

	suggestion, err := a.Service.SuggestNextInvoiceNo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "001", suggestion.NextInvoiceNo)
}

func TestBuildRejectsIncompleteStorageConfig(t *testing.T) {
	_, err := Build(context.Background(), config.Config{StoreBackend: config.BackendPostgres})
	require.ErrorContains(t, err, "DATABASE_URL")

	_, err = Build(context.Background(), config.Config{StoreBackend: "mongo"})
	require.Error(t, err)
}

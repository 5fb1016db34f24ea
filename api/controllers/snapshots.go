package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mvrodrig/tillsync/api/responses"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// SnapshotStore caches cart/catalog blobs on the record store.
type SnapshotStore interface {
	PutCart(ctx context.Context, data json.RawMessage) error
	GetCart(ctx context.Context) json.RawMessage
	ClearCart(ctx context.Context) error
	PutCatalog(ctx context.Context, data json.RawMessage) error
	GetCatalog(ctx context.Context) json.RawMessage
	ClearCatalog(ctx context.Context) error
}

// PutSnapshot stores a cart or catalog snapshot blob.
func PutSnapshot(logg *logger.Logger, store SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil || len(body) == 0 || !json.Valid(body) {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "snapshot body must be valid JSON"))
			return
		}

		var putErr error
		switch chi.URLParam(r, "kind") {
		case "cart":
			putErr = store.PutCart(r.Context(), body)
		case "catalog":
			putErr = store.PutCatalog(r.Context(), body)
		default:
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "snapshot kind must be cart or catalog"))
			return
		}
		if putErr != nil {
			responses.WriteError(r.Context(), logg, w, putErr)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "stored"})
	}
}

// GetSnapshot loads a snapshot blob; absent or unreadable caches read as null.
func GetSnapshot(logg *logger.Logger, store SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var data json.RawMessage
		switch chi.URLParam(r, "kind") {
		case "cart":
			data = store.GetCart(r.Context())
		case "catalog":
			data = store.GetCatalog(r.Context())
		default:
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "snapshot kind must be cart or catalog"))
			return
		}
		responses.WriteSuccess(w, data)
	}
}

// ClearSnapshot drops a snapshot blob.
func ClearSnapshot(logg *logger.Logger, store SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		switch chi.URLParam(r, "kind") {
		case "cart":
			err = store.ClearCart(r.Context())
		case "catalog":
			err = store.ClearCatalog(r.Context())
		default:
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "snapshot kind must be cart or catalog"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cleared"})
	}
}

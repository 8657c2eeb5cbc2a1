// Package server implements the upload drop HTTP service.
//
// Routes:
//
//	POST /upload   multipart upload, guarded by the shared secret
//	GET  /files/*  read-only access to stored files
//
// Everything else answers 404 "Not found". Uploads stream to
// a scratch file first and are renamed into place under the storage root,
// so a file is either fully present or absent. Audit rows and object
// storage mirroring happen after the response and never change it.
//
// AdminHandler exposes /metrics, /healthz and /livez for a separate
// listener.
package server

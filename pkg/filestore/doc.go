// Package filestore holds the content behind file reference attributes.
//
// A file reference value carries a key, a display name, and a size; the
// bytes themselves live in a Store. DiskStore keeps them on the local
// filesystem with metadata sidecars, S3Store keeps them in a bucket with
// presigned download URLs. Handler is a ready-made multipart upload
// endpoint that stores the content and returns the reference to assign.
package filestore

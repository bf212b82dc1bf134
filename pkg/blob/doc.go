// Package blob stores report and post attachments in S3-compatible object
// storage. Clients never stream bytes through the API: they get presigned
// upload and download URLs and talk to the object store directly, which is
// what an offline client flushing a queue of photos needs.
package blob

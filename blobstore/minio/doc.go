// Package minio provides a BlobStore implementation for MinIO and other
// S3-compatible object stores.
//
// Snapshots are streamed directly to the object store, so a database can
// checkpoint to shared storage without local disk capacity for the full
// snapshot.
//
// Usage:
//
//	client, err := minio.New("play.min.io", &minio.Options{
//		Creds: credentials.NewStaticV4(accessKey, secretKey, ""),
//	})
//	store := miniostore.NewStore(client, "kivo", "mydb/")
package minio

// Package kbcontent implements the knowledge-base content lifecycle: ingesting
// uploaded documents into a blob store, persisting their metadata and tags,
// serving and searching them, and retiring them again.
//
// The package exposes a single Service interface. A Service coordinates two
// systems of record, a transactional Repository (memory or Postgres) and a
// BlobStore (memory, filesystem or S3), implementations of which live in the
// repo and storage subpackages.
//
// Consistency Model
//
// Ingestion stores the object first and then writes the metadata row and tag
// associations in one transaction. If anything fails after the object was
// stored, the transaction is rolled back and the object is deleted again
// (best effort). Deletion removes the object while the row is locked and only
// then deletes the row; a failing object delete rolls the transaction back.
// Reconcile marks rows whose object has disappeared as Failed.
package kbcontent

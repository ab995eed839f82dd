// Package presigned issues and verifies HMAC-SHA256 signed URLs for backends
// that cannot sign natively, such as the filesystem blob store.
//
// A signed URL carries two query parameters, signature and expires. The
// signature covers METHOD|PATH|EXPIRES, so a URL signed for GET cannot be
// replayed with another method or against another object.
//
//	signer := presigned.New(
//	    presigned.WithSecretKey(secret),
//	    presigned.WithURLPattern("/blobs/{key}"),
//	)
//	url, err := signer.SignKey(http.MethodGet, "knowledge-content/abc-report.pdf", 5*time.Minute)
//
// Serve the objects behind ValidateMiddleware and read the verified key with
// ObjectKeyFromContext.
package presigned

// Package imageguard validates untrusted image uploads before anything else
// touches them.
//
// Every file passes through four ordered stages and stops at the first
// failure:
//
//  1. Structural check: name, size bounds, filename denylist and declared type.
//  2. Signature check: the first 32 bytes must match the declared type.
//  3. Threat scan: metadata strings and the first 64 KiB of content are
//     searched for script, markup and injection payloads (also inside base64
//     runs), and the header is tested for compression-bomb shapes.
//  4. Metadata sanitize: free-text fields are dropped, strings are stripped of
//     markup and control characters, numbers are clamped.
//
// The outcome is a [ValidationResult]; its JSON form carries exactly
// valid, sanitized, warnings and errors. Rejections carry a stable [Code].
//
// # Basic Usage
//
//	v := imageguard.NewDefault()
//
//	result := v.ValidateBytes(ctx, "photo.jpg", "image/jpeg", data, nil)
//	if !result.Valid {
//	    log.Printf("rejected: %s (%s)", result.Code, result.Errors[0].Message)
//	}
//
// # Custom Constraints
//
//	v, err := imageguard.NewBuilder().
//	    MaxSize(10 * imageguard.MB).
//	    Accept("image/jpeg", "image/png").
//	    DenyFields("GPSProcessingMethod").
//	    WithLogger(logger).
//	    Build()
//
// # Stored Uploads
//
// Sources open files that already live in storage. Import a driver to
// register it:
//
//	import _ "github.com/gobeaver/imageguard/driver/s3"
//
//	svc, err := imageguard.Default() // configured from IMAGEGUARD_* variables
//	result, err := svc.ValidatePath(ctx, "incoming/photo.jpg", nil)
//
// Drivers exist for the local filesystem, Amazon S3, Google Cloud Storage,
// Azure Blob Storage, SFTP and entries of an uploaded ZIP bundle. All of them
// read byte ranges only.
//
// # Caching
//
// [CachingValidator] keys verdicts by [Validator.Fingerprint], which covers
// exactly the inputs a verdict depends on. [MemoryCache] is built in; a Redis
// backend lives in the cache/rediscache package.
package imageguard

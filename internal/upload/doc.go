// Package upload implements the one-shot multipart path that ships a
// finished utterance (text, audio artifact, or image) to the backend
// expense-processing endpoint.
package upload

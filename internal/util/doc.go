// Package util holds small helpers shared by the authorization server and
// the resource server: token truncation for logs, scope handling and URL
// normalisation.
package util

/*
callback is a package that provides callbacks (in the form of http.HandlerFunc)
for delivering authorization server responses to an oidc.Session: Redirect
completes redirects sent to a server side redirect URL and Message accepts the
token responses an authorization code popup posts back to its opening window.
*/
package callback

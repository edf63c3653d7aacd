package sso

import "context"

// SAMLResponseScript reads the SAMLResponse field from the current document.
const SAMLResponseScript = `document.querySelector("form input[name=\"SAMLResponse\"]").value`

// ViewportScript pins the viewport scale. Hosts that render pages inject it
// at document end.
const ViewportScript = `const meta = document.createElement('meta');
meta.name = 'viewport';
meta.content = 'width=device-width, initial-scale=1.0, maximum-scale=1.0, user-scalable=no';
document.getElementsByTagName('head')[0].appendChild(meta);`

// Document is the page currently loaded in the browser host.
type Document interface {
	// EvaluateScript runs js against the document and returns its value.
	EvaluateScript(ctx context.Context, js string) (any, error)
}

// Policy decides each navigation a host is about to perform.
type Policy interface {
	OnNavigate(ctx context.Context, target string, doc Document) Decision
}

// Host is a browser that can run a login flow. Run navigates to start and
// consults policy before every navigation, including the first. It returns
// once policy finishes the flow, the user abandons it, or ctx is done.
// Stop aborts any in-flight load and releases the host's live state.
type Host interface {
	Run(ctx context.Context, start string, policy Policy) error
	Stop()
}

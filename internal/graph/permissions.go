package graph

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// permissionRule maps an endpoint substring to the delegated scopes a read
// (GET) or write (anything else) call needs.
type permissionRule struct {
	fragments []string
	read      string
	write     string
}

// Teams and chat message rules must precede the mail rule so that
// /teams/{id}/channels/{id}/messages is not reported as Mail.*.
var permissionRules = []permissionRule{
	{fragments: []string{"/channels/", "/channels"}, read: "ChannelMessage.Read.All", write: "ChannelMessage.Send"},
	{fragments: []string{"/chats"}, read: "Chat.Read", write: "Chat.ReadWrite"},
	{fragments: []string{"/messages", "/mailfolders", "/sendmail"}, read: "Mail.Read", write: "Mail.Send"},
	{fragments: []string{"/calendar", "/events"}, read: "Calendars.Read", write: "Calendars.ReadWrite"},
	{fragments: []string{"/users"}, read: "User.Read.All", write: "User.ReadWrite.All"},
	{fragments: []string{"/groups"}, read: "Group.Read.All", write: "Group.ReadWrite.All"},
	{fragments: []string{"/teams", "/joinedteams"}, read: "Team.ReadBasic.All", write: "TeamSettings.ReadWrite.All"},
	{fragments: []string{"/drive", "/items"}, read: "Files.Read", write: "Files.ReadWrite"},
	{fragments: []string{"/sites"}, read: "Sites.Read.All", write: "Sites.ReadWrite.All"},
	{fragments: []string{"/planner", "/todo"}, read: "Tasks.Read", write: "Tasks.ReadWrite"},
	{fragments: []string{"/contacts"}, read: "Contacts.Read", write: "Contacts.ReadWrite"},
}

// InferPermissions guesses the delegated Graph scopes an endpoint needs from
// substrings of its path. GET selects the read variant; every other method
// selects the write variant.
func InferPermissions(endpoint, method string) []string {
	path := "/" + strings.TrimPrefix(strings.ToLower(pathOnly(endpoint)), "/")
	write := !strings.EqualFold(method, http.MethodGet)

	var perms []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}

	channelMessages := false
	for _, rule := range permissionRules {
		if !containsAny(path, rule.fragments) {
			continue
		}
		switch rule.read {
		case "ChannelMessage.Read.All":
			// Channel paths only need message scopes on message sub-paths.
			if !strings.Contains(path, "/messages") {
				continue
			}
			channelMessages = true
		case "Mail.Read":
			if channelMessages || strings.Contains(path, "/chats") {
				continue
			}
		case "Team.ReadBasic.All":
			if channelMessages {
				continue
			}
		}
		if write {
			add(rule.write)
		} else {
			add(rule.read)
		}
	}

	if len(perms) == 0 && (path == "/me" || strings.HasPrefix(path, "/me/")) {
		add("User.Read")
	}
	return perms
}

// resourceLabels maps path fragments to user-facing resource names, most
// specific first.
var resourceLabels = []struct {
	fragment string
	label    string
}{
	{"/channels", "Teams channel messages"},
	{"/chats", "Teams chats"},
	{"/messages", "emails"},
	{"/mailfolders", "mail folders"},
	{"/calendarview", "calendar events"},
	{"/events", "calendar events"},
	{"/calendar", "calendars"},
	{"/contacts", "contacts"},
	{"/planner", "Planner tasks"},
	{"/todo", "To Do tasks"},
	{"/drive", "files"},
	{"/items", "files"},
	{"/sites", "SharePoint sites"},
	{"/teams", "Teams"},
	{"/joinedteams", "Teams"},
	{"/groups", "groups"},
	{"/users", "user information"},
	{"/me", "your profile"},
}

// ResourceLabel describes the resource type addressed by a Graph URL or
// endpoint in plain language.
func ResourceLabel(endpoint string) string {
	path := strings.ToLower(pathOnly(endpoint))
	for _, rl := range resourceLabels {
		if strings.Contains(path, rl.fragment) {
			return rl.label
		}
	}
	return "this resource"
}

// ClassifyAccess turns an upstream 401/403/404 (or any other status passed
// in) into an AccessError with a resource-aware message.
func ClassifyAccess(status int, body []byte, requestURL, method string) *AccessError {
	code, graphMsg := parseGraphError(body)
	resource := ResourceLabel(requestURL)

	ae := &AccessError{
		StatusCode:   status,
		ErrorCode:    code,
		Resource:     resource,
		GraphMessage: graphMsg,
	}

	switch status {
	case http.StatusUnauthorized:
		ae.ErrorType = ErrorTypeSessionExpired
		ae.UserMessage = "Your session has expired or the access token is invalid."
		ae.Action = "Sign in again (refresh the connection) and retry the request."
	case http.StatusForbidden:
		ae.ErrorType = ErrorTypePermissionDenied
		ae.RequiredPermissions = InferPermissions(requestURL, method)
		ae.UserMessage = fmt.Sprintf("You don't have permission to access %s.", resource)
		if len(ae.RequiredPermissions) > 0 {
			ae.Action = fmt.Sprintf("Ask your administrator to grant the Microsoft Graph permission(s) %s to this connection.",
				strings.Join(ae.RequiredPermissions, ", "))
		} else {
			ae.Action = "Ask your administrator to grant the required Microsoft Graph permissions to this connection."
		}
	case http.StatusNotFound:
		ae.ErrorType = ErrorTypeNotFoundOrDenied
		ae.UserMessage = fmt.Sprintf("The requested %s could not be found, or you don't have access to it.", resource)
		ae.Action = "Check that the IDs in the endpoint are correct and that you have access to the item."
	default:
		ae.ErrorType = ErrorTypeAccessError
		ae.UserMessage = fmt.Sprintf("Access to %s failed with HTTP %d.", resource, status)
		ae.Action = "Retry the request; contact your administrator if the problem persists."
	}
	return ae
}

// pathOnly strips scheme, host, API version, and query from a Graph URL or
// endpoint.
func pathOnly(endpoint string) string {
	p := endpoint
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		if u, err := url.Parse(p); err == nil {
			p = u.Path
		}
	}
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	trimmed := strings.TrimPrefix(p, "/")
	for _, v := range []string{"v1.0/", "beta/"} {
		if strings.HasPrefix(strings.ToLower(trimmed), v) {
			return "/" + trimmed[len(v):]
		}
	}
	return p
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

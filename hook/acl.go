package hook

import "github.com/driftmq/mqtt/topic"

// ACLHook authorizes PUBLISH/SUBSCRIBE against the acl/publish-acl config
// maps, checking each allowed entry via topic.ACLAllows/ACLAnyAllows.
// Username "anonymous" stands in for a session with no username.
type ACLHook struct {
	*Base
	acl           map[string][]string
	publishACL    map[string][]string
	hasPublishACL bool
}

// NewACLHook builds an ACL hook from the topic-check.acl and
// topic-check.publish-acl config maps. publishACL may be nil, which is
// treated permissively: configs written before publish-acl existed keep
// allowing authenticated users to publish.
func NewACLHook(acl, publishACL map[string][]string) *ACLHook {
	return &ACLHook{
		Base:          NewHookBase("topic-acl"),
		acl:           acl,
		publishACL:    publishACL,
		hasPublishACL: len(publishACL) > 0,
	}
}

// CheckTopic votes Deny only when an ACL governs this access type and this
// user's entry (or lack of one) rejects the topic; otherwise Undecided, so
// an unconfigured ACL section never vetoes on its own.
func (h *ACLHook) CheckTopic(client *Client, topicName string, access AccessType) Decision {
	username := "anonymous"
	if client != nil && client.Username != "" {
		username = client.Username
	}

	switch access {
	case AccessSubscribe:
		if len(h.acl) == 0 {
			return Undecided
		}
		allowed, ok := h.acl[username]
		if !ok {
			return Deny
		}
		if topic.ACLAnyAllows(topicName, allowed) {
			return Allow
		}
		return Deny

	case AccessPublish:
		if !h.hasPublishACL {
			return Undecided
		}
		allowed, ok := h.publishACL[username]
		if !ok {
			return Deny
		}
		if topic.ACLAnyAllows(topicName, allowed) {
			return Allow
		}
		return Deny
	}
	return Undecided
}

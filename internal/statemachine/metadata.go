package statemachine

// Metadata 状态展示元数据
type Metadata struct {
	Status      string `json:"status"`
	Label       string `json:"label"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

var metadata = map[Status]Metadata{
	StatusQueued: {
		Label:       "Queued",
		Color:       "gray",
		Icon:        "clock",
		Description: "Waiting for a worker to start content generation",
	},
	StatusGenerating: {
		Label:       "Generating",
		Color:       "blue",
		Icon:        "loader",
		Description: "Content generation is in progress",
	},
	StatusGenerated: {
		Label:       "Generated",
		Color:       "green",
		Icon:        "check-circle",
		Description: "Content is ready for review",
	},
	StatusInReview: {
		Label:       "In Review",
		Color:       "purple",
		Icon:        "eye",
		Description: "Content is being reviewed",
	},
	StatusApproved: {
		Label:       "Approved",
		Color:       "green",
		Icon:        "thumbs-up",
		Description: "Content was approved and can be scheduled or published",
	},
	StatusRejected: {
		Label:       "Rejected",
		Color:       "orange",
		Icon:        "thumbs-down",
		Description: "Content was rejected and can be retried",
	},
	StatusScheduled: {
		Label:       "Scheduled",
		Color:       "indigo",
		Icon:        "calendar",
		Description: "Publishing is scheduled",
	},
	StatusPublishing: {
		Label:       "Publishing",
		Color:       "blue",
		Icon:        "upload",
		Description: "Content is being published",
	},
	StatusPublished: {
		Label:       "Published",
		Color:       "emerald",
		Icon:        "globe",
		Description: "Content is live",
	},
	StatusFailed: {
		Label:       "Failed",
		Color:       "red",
		Icon:        "x-circle",
		Description: "A phase failed; the job can be retried",
	},
	StatusCancelled: {
		Label:       "Cancelled",
		Color:       "gray",
		Icon:        "slash",
		Description: "The job was cancelled",
	},
}

// unknown 状态不在枚举内时返回的元数据
var unknown = Metadata{
	Label:       "Unknown",
	Color:       "gray",
	Icon:        "help-circle",
	Description: "Unrecognized status",
}

// MetadataFor 返回状态的展示元数据
// 对未知值返回 unknown 元数据而不是报错,状态可能来自外部或旧数据
func MetadataFor(raw string) Metadata {
	m, ok := metadata[Status(raw)]
	if !ok {
		m = unknown
	}
	m.Status = raw
	return m
}

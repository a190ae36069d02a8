package store

// Collection describes one mirrored collection: the order key used for full
// synchronization and the field holding the record's title.
type Collection struct {
	Name       string `yaml:"name" json:"name"`
	OrderKey   string `yaml:"order_key" json:"orderKey"`
	TitleField string `yaml:"title_field" json:"titleField"`
}

const (
	PressReleases = "press_releases"
	SocialPosts   = "social_posts"
)

// DefaultCollections are the two collections the dashboard mirrors.
func DefaultCollections() []Collection {
	return []Collection{
		{Name: PressReleases, OrderKey: "created_at", TitleField: "title"},
		{Name: SocialPosts, OrderKey: "created_at", TitleField: "title"},
	}
}

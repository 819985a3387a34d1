// Package catalog holds the lessons a fresh webstore starts with. The
// webstore's in-memory store and the seeder both read them from here.
package catalog

// Lesson is one product of the starting catalog.
type Lesson struct {
	Title              string
	Description        string
	Price              float64
	AvailableInventory int
	Location           string
}

// SampleLessons returns a fresh copy of the starting catalog.
func SampleLessons() []Lesson {
	return []Lesson{
		{
			Title:              "Math Lesson",
			Description:        "A comprehensive math class for all levels.",
			Price:              50,
			AvailableInventory: 10,
			Location:           "London",
		},
		{
			Title:              "Science Lesson",
			Description:        "Explore the wonders of science in this engaging class.",
			Price:              60,
			AvailableInventory: 5,
			Location:           "Manchester",
		},
		{
			Title:              "History Lesson",
			Description:        "Dive into history with this captivating class.",
			Price:              40,
			AvailableInventory: 8,
			Location:           "Birmingham",
		},
	}
}

package domain

// Course is a unit of material in the knowledge base. Title is its unique id.
type Course struct {
	Title      string   `json:"title"`
	Link       string   `json:"link,omitempty"`
	Instructor string   `json:"instructor,omitempty"`
	Lessons    []Lesson `json:"lessons,omitempty"`
}

// Lesson is a numbered section of a course.
type Lesson struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Link   string `json:"link,omitempty"`
}

// Lesson returns the lesson with the given number.
func (c *Course) Lesson(number int) (Lesson, bool) {
	for _, l := range c.Lessons {
		if l.Number == number {
			return l, true
		}
	}
	return Lesson{}, false
}

// Chunk is a searchable slice of course text.
type Chunk struct {
	CourseTitle  string `json:"courseTitle"`
	LessonNumber *int   `json:"lessonNumber,omitempty"`
	Index        int    `json:"index"`
	Content      string `json:"content"`
}

package notifier

import (
	"log"
	"os"
	"time"
)

// DefaultTemplate is used when no external template file is configured.
// Placeholder names are shared with pre-existing template files and must
// not change.
const DefaultTemplate = "Olá,\n\n" +
	"Informamos que ${aluno_nome} esteve ausente na escola no dia ${data}.\n\n" +
	"Atenciosamente,\nEquipe Escolar"

// LoadTemplate reads the notification template from path, falling back to
// the built-in default when the file is absent or unreadable.
func LoadTemplate(path string) string {
	if path == "" {
		return DefaultTemplate
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("notifier: template %s unreadable (%v), using default", path, err)
		}
		return DefaultTemplate
	}
	return string(data)
}

// Render substitutes ${aluno_nome}, ${data} and ${turno} into the
// template. Unknown placeholders expand to nothing.
func Render(template, studentName string, date time.Time, turno string) string {
	return os.Expand(template, func(key string) string {
		switch key {
		case "aluno_nome":
			return studentName
		case "data":
			return date.Format("02/01/2006")
		case "turno":
			return turno
		default:
			return ""
		}
	})
}

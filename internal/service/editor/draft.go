package editor

import "github.com/zhouzirui/persona-counsel/backend/internal/model/persona"

// Draft is the editable copy of a persona held by one editing surface.
type Draft struct {
	Name                  string                        `json:"name"`
	DisplayName           string                        `json:"displayName"`
	Specialties           []string                      `json:"specialties"`
	Personality           string                        `json:"personality"`
	Greeting              string                        `json:"greeting"`
	TeacherInfo           string                        `json:"teacherInfo"`
	FreeNotes             string                        `json:"freeNotes"`
	Image                 string                        `json:"image"`
	NGWords               persona.NGWords               `json:"ngWords"`
	ResponseCustomization persona.ResponseCustomization `json:"responseCustomization"`
}

// DraftFrom copies the editable fields of p.
func DraftFrom(p persona.Persona) Draft {
	p = p.Clone()
	return Draft{
		Name:                  p.Name,
		DisplayName:           p.DisplayName,
		Specialties:           p.Specialties,
		Personality:           p.Personality,
		Greeting:              p.Greeting,
		TeacherInfo:           p.TeacherInfo,
		FreeNotes:             p.FreeNotes,
		Image:                 p.Image,
		NGWords:               p.NGWords,
		ResponseCustomization: p.ResponseCustomization,
	}
}

// Update turns the draft into a store write that overwrites every editable field.
func (d Draft) Update() persona.Update {
	return persona.FullUpdate(persona.Persona{
		Name:                  d.Name,
		DisplayName:           d.DisplayName,
		Specialties:           d.Specialties,
		Personality:           d.Personality,
		Greeting:              d.Greeting,
		TeacherInfo:           d.TeacherInfo,
		FreeNotes:             d.FreeNotes,
		Image:                 d.Image,
		NGWords:               d.NGWords,
		ResponseCustomization: d.ResponseCustomization,
	})
}

func (d Draft) clone() Draft {
	return DraftFrom(persona.Persona{
		Name:                  d.Name,
		DisplayName:           d.DisplayName,
		Specialties:           d.Specialties,
		Personality:           d.Personality,
		Greeting:              d.Greeting,
		TeacherInfo:           d.TeacherInfo,
		FreeNotes:             d.FreeNotes,
		Image:                 d.Image,
		NGWords:               d.NGWords,
		ResponseCustomization: d.ResponseCustomization,
	})
}

// Package portal is the REST client for the hospital group's scheduling backend.
package portal

import (
	"errors"
	"fmt"
)

// PatientContext carries the patient attributes every scheduling call needs.
// It is built once per request from the patient's session claims.
type PatientContext struct {
	PatientID   string `json:"cdPessoaFisica"`
	ClientID    string `json:"idCliente"`
	DependentID string `json:"cdDependente,omitempty"`
	InsuranceID string `json:"idConvenio"`
	CardNumber  string `json:"nrCarteirinha"`
	Age         int    `json:"idadeCliente"`
	Sex         string `json:"sexo"`
	CompanyID   int    `json:"idEmpresa,omitempty"`
	Name        string `json:"nome,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Specialty is a medical specialty with open agenda for the patient.
type Specialty struct {
	ID          int    `json:"id"`
	Description string `json:"descricao"`
}

// Unit is a facility location.
type Unit struct {
	ID   int    `json:"id"`
	Name string `json:"nome"`
}

// Professional offers slots for one specialty at one unit.
type Professional struct {
	ID         int    `json:"id"`
	Name       string `json:"nome"`
	ScheduleID int    `json:"idAgenda"`
	Unit       Unit   `json:"unidade"`
}

// TimeSlot is a single bookable opening. DateTime holds "dd/mm/yyyy HH:MM[:SS]".
type TimeSlot struct {
	ID          int    `json:"id"`
	ScheduleID  int    `json:"idAgenda"`
	ClockTime   string `json:"hora"`
	DateTime    string `json:"data"`
	SpecialRate bool   `json:"horarioEspecial"`
}

// ConfirmAppointmentRequest is the body of ConfirmarAgendamento2.
type ConfirmAppointmentRequest struct {
	ClientID       string `json:"idCliente"`
	InsuranceID    string `json:"idConvenio"`
	CardNumber     string `json:"codigoCarteirinha"`
	ScheduleID     int    `json:"idAgenda"`
	SlotID         int    `json:"idHorario"`
	ScheduleDate   string `json:"dataAgenda"`
	CompanyID      int    `json:"idEmpresa"`
	Type           string `json:"tipo"`
	DependentID    string `json:"idDependente"`
	SpecialtyID    int    `json:"idEspecialidade,omitempty"`
	ProfessionalID int    `json:"idProfissional,omitempty"`
	Phone          string `json:"telefone,omitempty"`
}

// ConfirmAppointmentResponse is the envelope returned by a confirmation.
type ConfirmAppointmentResponse struct {
	Success bool   `json:"sucesso"`
	Message string `json:"mensagem"`
}

// envelope wraps every Agenda response.
type envelope[T any] struct {
	Success bool   `json:"sucesso"`
	Message string `json:"mensagem"`
	Data    T      `json:"dados"`
}

// tokenResponse wraps the verification-code endpoints.
type tokenResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"mensagem"`
}

// BusinessError is a rejection reported by the backend with sucesso/status false.
// Message is the backend text, meant to be shown to the patient as is.
type BusinessError struct {
	Endpoint string
	Message  string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("portal: %s rejected: %s", e.Endpoint, e.Message)
}

// AsBusinessError unwraps err into a *BusinessError when possible.
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

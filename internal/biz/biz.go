package biz

import (
	"github.com/brunobiu/chatbotprincipal/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Conversation *usecase.ConversationUsecase
	Response     *usecase.ResponseUsecase
	Knowledge    *usecase.KnowledgeUsecase
	Usage        *usecase.UsageUsecase
	BotConfig    *usecase.BotConfigUsecase
}

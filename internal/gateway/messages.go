package gateway

import (
	"fmt"
	"time"

	"github.com/RussianLioN/openclaw-gateway/internal/session"
)

const welcomeText = `[OpenClaw Gateway] Добро пожаловать!

Я помогу вам управлять CodeFoundry через естественный язык.

Команды:
• "Создай проект [тип] [название]"
• "Сгенерируй агентов для [проекта]"
• "Задеплой на [окружение]"
• "Покажи статус"

Доступные агенты: main, dev, devops, prompt, codefoundry

Для справки: help или "помощь"
Для выхода: exit или "выход"
`

const goodbyeText = "[GOODBYE] До свидания! Сессия завершена."

const rephraseText = "Не совсем понял ваш запрос. Попробуйте перефразировать."

const smallTalkReply = "Привет! Чем могу помочь? Напишите \"помощь\" для списка команд."

const helpText = `[HELP] Справка по OpenClaw Gateway:

## Основные команды

### Создание проектов
• "Создай проект telegram-bot my-bot"
• "Создай web-service api"
• "Создай fullstack my-saas"

### Агенты
• main — основной координатор
• dev — разработка
• devops — инфраструктура
• prompt — промпт инженерия
• codefoundry — генерация проектов

### Деплой
• "Задеплой на staging"
• "Задеплой на production"

### Другое
• "Покажи статус" — статус сессии
• "/help" — эта справка
• "/exit" — завершить сессию

## Примеры диалога

Вы: Создай проект
Gateway: Какой тип проекта?
Вы: telegram-bot
Gateway: Как назвать проект?
Вы: delivery-bot
Gateway: [создаёт проект...]

Вы: Задеплой на staging
Gateway: [деплоит...]`

func statusText(s *session.Session) string {
	task := s.CurrentTask()
	if task == "" {
		task = "нет активной задачи"
	}
	project := s.CurrentProject()
	if project == "" {
		project = "не установлен"
	}

	return fmt.Sprintf(`[STATUS] Текущий статус:

Сессия: %s
Агент: %s
Задача: %s
Сообщений: %d
Время: %d сек

Текущий проект: %s`,
		s.ID,
		s.CurrentAgent(),
		task,
		s.MessageCount(),
		int(time.Since(s.StartedAt).Seconds()),
		project,
	)
}

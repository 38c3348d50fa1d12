// Package orchestrator — демон, превращающий запросы запуска в выполнение.
//
// Orchestrator:
//   - Получает запросы run.requested и run.cancel_requested из RabbitMQ
//   - Периодически проверяет PENDING runs в БД (polling fallback)
//   - Загружает пайплайн, валидирует спецификацию и строит DAG
//   - Ведёт выполнение через scheduler и адаптер удалённой платформы
//   - Записывает состояния шагов в БД и публикует события выполнения
//   - Создаёт runs по расписаниям (cron и интервалы)
package orchestrator

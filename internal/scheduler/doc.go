// Package scheduler — планировщик выполнения пайплайна.
//
// Ведёт граф до завершения при ограничении по конкурентности:
//   - Диспетчеризует READY шаги через адаптер удалённого выполнения
//   - Отслеживает статусы RUNNING job'ов (по горутине-поллеру на job)
//   - Применяет retry-политику для транзиентных ошибок
//   - Каскадно помечает SKIPPED зависимые от упавших шагов
//   - Обрабатывает отмену и таймауты (шага и всего run)
//
// Состояние run'а мутируется ТОЛЬКО управляющим циклом:
// поллеры шлют результаты в единый канал событий, конкурентной
// записи в состояние нет.
package scheduler
